package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskmarket/internal/domain"
)

const profileTaskColumns = `pt.id,pt.task_id,pt.profile_id,pt.status,COALESCE(pt.answer1,''),COALESCE(pt.answer2,''),COALESCE(pt.answer3,''),pt.quote,pt.rating,pt.applied_at,pt.created_at,pt.updated_at`

func scanProfileTask(row rowScanner, extra ...any) (domain.ProfileTask, error) {
	var pt domain.ProfileTask
	var quote, rating sql.NullInt64
	var appliedAt sql.NullString
	dest := []any{&pt.ID, &pt.TaskID, &pt.ProfileID, &pt.Status, &pt.Answer1, &pt.Answer2, &pt.Answer3, &quote, &rating, &appliedAt, &pt.CreatedAt, &pt.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	if err == sql.ErrNoRows {
		return pt, ErrNotFound
	}
	if err != nil {
		return pt, err
	}
	pt.Quote = intPtr(quote)
	pt.Rating = intPtr(rating)
	pt.AppliedAt = stringPtr(appliedAt)
	return pt, nil
}

// InsertProfileTask creates an interaction row. A second row for the same
// (profile, task) pair fails with ErrConflict.
func (r Repo) InsertProfileTask(ctx context.Context, tx *sql.Tx, pt domain.ProfileTask) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO profile_tasks(id,task_id,profile_id,status,answer1,answer2,answer3,quote,rating,applied_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		pt.ID, pt.TaskID, pt.ProfileID, pt.Status, nullable(pt.Answer1), nullable(pt.Answer2), nullable(pt.Answer3),
		nullableIntPtr(pt.Quote), nullableIntPtr(pt.Rating), nullableStringPtr(pt.AppliedAt), pt.CreatedAt, pt.UpdatedAt)
	return mapWriteErr(err)
}

func (r Repo) UpdateProfileTask(ctx context.Context, tx *sql.Tx, pt domain.ProfileTask) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE profile_tasks SET status=?, answer1=?, answer2=?, answer3=?, quote=?, rating=?, applied_at=?, updated_at=? WHERE id=?`,
		pt.Status, nullable(pt.Answer1), nullable(pt.Answer2), nullable(pt.Answer3), nullableIntPtr(pt.Quote), nullableIntPtr(pt.Rating),
		nullableStringPtr(pt.AppliedAt), pt.UpdatedAt, pt.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) GetProfileTask(ctx context.Context, tx *sql.Tx, id string) (domain.ProfileTask, error) {
	return scanProfileTask(r.q(tx).QueryRowContext(ctx, `SELECT `+profileTaskColumns+` FROM profile_tasks pt WHERE pt.id=?`, id))
}

// FindProfileTasks returns every row for the (profile, task) pair.
func (r Repo) FindProfileTasks(ctx context.Context, tx *sql.Tx, profileID, taskID string) ([]domain.ProfileTask, error) {
	return r.ListProfileTasksTx(ctx, tx, ProfileTaskFilters{ProfileID: profileID, TaskID: taskID})
}

type ProfileTaskFilters struct {
	ProfileID  string
	TaskID     string
	Status     domain.ProfileTaskStatus
	TaskStatus domain.TaskStatus
	Limit      int
}

func (r Repo) ListProfileTasks(ctx context.Context, f ProfileTaskFilters) ([]domain.ProfileTask, error) {
	return r.ListProfileTasksTx(ctx, nil, f)
}

func (r Repo) ListProfileTasksTx(ctx context.Context, tx *sql.Tx, f ProfileTaskFilters) ([]domain.ProfileTask, error) {
	var clauses []string
	var args []any
	join := ""
	if f.ProfileID != "" {
		clauses = append(clauses, "pt.profile_id=?")
		args = append(args, f.ProfileID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "pt.task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Status != "" {
		clauses = append(clauses, "pt.status=?")
		args = append(args, f.Status)
	}
	if f.TaskStatus != "" {
		join = " JOIN tasks t ON t.id=pt.task_id"
		clauses = append(clauses, "t.status=?")
		args = append(args, f.TaskStatus)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + profileTaskColumns + ` FROM profile_tasks pt` + join + where + ` ORDER BY pt.updated_at DESC, pt.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProfileTask{}
	for rows.Next() {
		pt, err := scanProfileTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, pt)
	}
	return res, rows.Err()
}

// ListApplicants returns the task's ProfileTask rows joined with the
// applying profile, best rated first.
func (r Repo) ListApplicants(ctx context.Context, taskID string, status domain.ProfileTaskStatus) ([]domain.Applicant, error) {
	query := `SELECT ` + profileTaskColumns + `,a.username,a.first_name,a.last_name,p.rating,p.shortlist_count,p.tasks_completed
FROM profile_tasks pt JOIN profiles p ON p.id=pt.profile_id JOIN accounts a ON a.id=p.account_id WHERE pt.task_id=?`
	args := []any{taskID}
	if status != "" {
		query += ` AND pt.status=?`
		args = append(args, status)
	}
	query += ` ORDER BY p.rating DESC, pt.created_at ASC, pt.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Applicant{}
	for rows.Next() {
		var a domain.Applicant
		pt, err := scanProfileTask(rows, &a.Username, &a.FirstName, &a.LastName, &a.ProfileRating, &a.ShortlistCount, &a.TasksCompleted)
		if err != nil {
			return nil, err
		}
		a.ProfileTask = pt
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountApplicationsSince counts the profile's rows whose application
// timestamp is strictly after since.
func (r Repo) CountApplicationsSince(ctx context.Context, tx *sql.Tx, profileID, since string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM profile_tasks WHERE profile_id=? AND applied_at IS NOT NULL AND applied_at > ?`, profileID, since).Scan(&n)
	return n, err
}
