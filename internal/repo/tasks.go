package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskmarket/internal/domain"
)

const taskColumns = `t.id,t.title,t.description,t.points,t.location,t.is_remote,t.status,t.owner_id,t.helper_id,COALESCE(t.question1,''),COALESCE(t.question2,''),COALESCE(t.question3,''),t.created_at,t.updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var helperID sql.NullString
	var remote int
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Points, &t.Location, &remote, &t.Status, &t.OwnerID, &helperID,
		&t.Question1, &t.Question2, &t.Question3, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.IsRemote = remote != 0
	t.HelperID = stringPtr(helperID)
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,title,description,points,location,is_remote,status,owner_id,helper_id,question1,question2,question3,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.Points, t.Location, boolInt(t.IsRemote), t.Status, t.OwnerID, nullableStringPtr(t.HelperID),
		nullable(t.Question1), nullable(t.Question2), nullable(t.Question3), t.CreatedAt, t.UpdatedAt)
	return mapWriteErr(err)
}

// GetTask loads a task and its required skills.
func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=?`, id))
	if err != nil {
		return t, err
	}
	t.Skills, err = r.ListTaskSkills(ctx, tx, t.ID)
	return t, err
}

// AssignHelper moves an OPEN task without a helper to IN_PROGRESS with the
// given helper. It reports false when the task no longer matches.
func (r Repo) AssignHelper(ctx context.Context, tx *sql.Tx, taskID, helperID, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET status=?, helper_id=?, updated_at=? WHERE id=? AND status=? AND helper_id IS NULL`,
		domain.TaskInProgress, helperID, now, taskID, domain.TaskOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateTaskStatus moves a task from one status to another, reporting false
// when the task was not in the expected status.
func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, taskID string, from, to domain.TaskStatus, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status=?`, to, now, taskID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteTask removes a task; profile_tasks and task_skills rows cascade.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, taskID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, taskID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type TaskFilters struct {
	OwnerID string
	Status  domain.TaskStatus
	// ExcludeInteractedBy drops tasks the profile has any ProfileTask for.
	ExcludeInteractedBy string
	// Query is matched case-insensitively against title, location,
	// description, the owner's first and last name and required skill titles.
	Query    string
	Location string
	// SkillCodes lists codes the task must all require.
	SkillCodes []string
	Limit      int
}

// ListTasks returns tasks ordered by most recently updated first.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "t.owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if f.ExcludeInteractedBy != "" {
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM profile_tasks pt WHERE pt.task_id=t.id AND pt.profile_id=?)")
		args = append(args, f.ExcludeInteractedBy)
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		clauses = append(clauses, "(instr(lower(t.title),?)>0 OR instr(lower(t.location),?)>0 OR instr(lower(t.description),?)>0 OR instr(lower(oa.first_name),?)>0 OR instr(lower(oa.last_name),?)>0 OR EXISTS (SELECT 1 FROM task_skills qs JOIN skills qsk ON qsk.id=qs.skill_id WHERE qs.task_id=t.id AND instr(lower(qsk.title),?)>0))")
		args = append(args, q, q, q, q, q, q)
	}
	if loc := strings.ToLower(strings.TrimSpace(f.Location)); loc != "" {
		clauses = append(clauses, "instr(lower(t.location),?)>0")
		args = append(args, loc)
	}
	for _, code := range f.SkillCodes {
		if code == "" {
			continue
		}
		clauses = append(clauses, "EXISTS (SELECT 1 FROM task_skills ts JOIN skills s ON s.id=ts.skill_id WHERE ts.task_id=t.id AND s.code=?)")
		args = append(args, code)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks t JOIN profiles op ON op.id=t.owner_id JOIN accounts oa ON oa.id=op.account_id` + where + ` ORDER BY t.updated_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	var ids []string
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	skills, err := r.taskSkills(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Skills = skills[res[i].ID]
		if res[i].Skills == nil {
			res[i].Skills = []domain.Skill{}
		}
	}
	return res, nil
}
