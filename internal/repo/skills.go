package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskmarket/internal/domain"
)

func (r Repo) InsertSkill(ctx context.Context, tx *sql.Tx, s domain.Skill) error {
	if s.ID == "" || s.Code == "" {
		return errors.New("skill id and code required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO skills(id,code,title) VALUES (?,?,?)`, s.ID, s.Code, s.Title)
	return mapWriteErr(err)
}

// EnsureSkill inserts the skill unless its code is already present.
func (r Repo) EnsureSkill(ctx context.Context, tx *sql.Tx, s domain.Skill) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO skills(id,code,title) VALUES (?,?,?) ON CONFLICT(code) DO NOTHING`, s.ID, s.Code, s.Title)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) ListSkills(ctx context.Context) ([]domain.Skill, error) {
	return r.querySkills(ctx, nil, `SELECT id,code,title FROM skills ORDER BY code ASC`)
}

func (r Repo) GetSkillByCode(ctx context.Context, code string) (domain.Skill, error) {
	var s domain.Skill
	err := r.DB.QueryRowContext(ctx, `SELECT id,code,title FROM skills WHERE code=?`, code).Scan(&s.ID, &s.Code, &s.Title)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// SkillsByCodes returns the skills whose codes are listed. Unknown codes are
// absent from the result.
func (r Repo) SkillsByCodes(ctx context.Context, tx *sql.Tx, codes []string) ([]domain.Skill, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return r.querySkills(ctx, tx, `SELECT id,code,title FROM skills WHERE code IN (`+placeholders(len(codes))+`) ORDER BY code ASC`, anySlice(codes)...)
}

// SkillsByIDs returns the skills whose ids are listed. Unknown ids are absent
// from the result.
func (r Repo) SkillsByIDs(ctx context.Context, tx *sql.Tx, ids []string) ([]domain.Skill, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.querySkills(ctx, tx, `SELECT id,code,title FROM skills WHERE id IN (`+placeholders(len(ids))+`) ORDER BY code ASC`, anySlice(ids)...)
}

func (r Repo) ListProfileSkills(ctx context.Context, tx *sql.Tx, profileID string) ([]domain.Skill, error) {
	return r.querySkills(ctx, tx, `SELECT s.id,s.code,s.title FROM profile_skills ps JOIN skills s ON s.id=ps.skill_id WHERE ps.profile_id=? ORDER BY s.code ASC`, profileID)
}

// ReplaceProfileSkills deletes every skill row of the profile and recreates
// the given set.
func (r Repo) ReplaceProfileSkills(ctx context.Context, tx *sql.Tx, profileID string, skillIDs []string) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM profile_skills WHERE profile_id=?`, profileID); err != nil {
		return err
	}
	for _, id := range skillIDs {
		if _, err := q.ExecContext(ctx, `INSERT INTO profile_skills(profile_id,skill_id) VALUES (?,?) ON CONFLICT DO NOTHING`, profileID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListTaskSkills(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Skill, error) {
	return r.querySkills(ctx, tx, `SELECT s.id,s.code,s.title FROM task_skills ts JOIN skills s ON s.id=ts.skill_id WHERE ts.task_id=? ORDER BY s.code ASC`, taskID)
}

func (r Repo) InsertTaskSkills(ctx context.Context, tx *sql.Tx, taskID string, skillIDs []string) error {
	q := r.q(tx)
	for _, id := range skillIDs {
		if _, err := q.ExecContext(ctx, `INSERT INTO task_skills(task_id,skill_id) VALUES (?,?) ON CONFLICT DO NOTHING`, taskID, id); err != nil {
			return err
		}
	}
	return nil
}

// taskSkills loads skills for many tasks in one query.
func (r Repo) taskSkills(ctx context.Context, taskIDs []string) (map[string][]domain.Skill, error) {
	res := map[string][]domain.Skill{}
	if len(taskIDs) == 0 {
		return res, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT ts.task_id,s.id,s.code,s.title FROM task_skills ts JOIN skills s ON s.id=ts.skill_id WHERE ts.task_id IN (`+placeholders(len(taskIDs))+`) ORDER BY s.code ASC`, anySlice(taskIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID string
		var s domain.Skill
		if err := rows.Scan(&taskID, &s.ID, &s.Code, &s.Title); err != nil {
			return nil, err
		}
		res[taskID] = append(res[taskID], s)
	}
	return res, rows.Err()
}

func (r Repo) querySkills(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.Skill, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Skill{}
	for rows.Next() {
		var s domain.Skill
		if err := rows.Scan(&s.ID, &s.Code, &s.Title); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
