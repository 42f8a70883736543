package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskmarket/internal/domain"
)

const profileColumns = `p.id,p.account_id,a.username,COALESCE(a.email,''),a.first_name,a.last_name,p.location,COALESCE(p.description,''),COALESCE(p.photo,''),p.rating,p.shortlist_count,p.tasks_completed,p.created_at,p.updated_at`

const profileFrom = ` FROM profiles p JOIN accounts a ON a.id=p.account_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.ID, &p.AccountID, &p.Username, &p.Email, &p.FirstName, &p.LastName, &p.Location, &p.Description,
		&p.Photo, &p.Rating, &p.ShortlistCount, &p.TasksCompleted, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertAccount(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	if a.ID == "" || strings.TrimSpace(a.Username) == "" {
		return errors.New("account id and username required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO accounts(id,username,email,first_name,last_name,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Username, nullable(a.Email), a.FirstName, a.LastName, a.CreatedAt)
	return mapWriteErr(err)
}

func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO profiles(id,account_id,location,description,photo,rating,shortlist_count,tasks_completed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.AccountID, p.Location, nullable(p.Description), nullable(p.Photo), p.Rating, p.ShortlistCount, p.TasksCompleted, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

// GetProfile loads a profile and its claimed skills.
func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	p, err := scanProfile(r.q(tx).QueryRowContext(ctx, `SELECT `+profileColumns+profileFrom+` WHERE p.id=?`, id))
	if err != nil {
		return p, err
	}
	p.Skills, err = r.ListProfileSkills(ctx, tx, p.ID)
	return p, err
}

// GetProfileByUsername resolves the profile for an account username.
func (r Repo) GetProfileByUsername(ctx context.Context, username string) (domain.Profile, error) {
	p, err := scanProfile(r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+profileFrom+` WHERE a.username=?`, username))
	if err != nil {
		return p, err
	}
	p.Skills, err = r.ListProfileSkills(ctx, nil, p.ID)
	return p, err
}

type ProfileFilters struct {
	Location string
	Limit    int
}

func (r Repo) ListProfiles(ctx context.Context, f ProfileFilters) ([]domain.Profile, error) {
	query := `SELECT ` + profileColumns + profileFrom
	var args []any
	if f.Location != "" {
		query += ` WHERE instr(lower(p.location), ?) > 0`
		args = append(args, strings.ToLower(f.Location))
	}
	query += ` ORDER BY a.username ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].Skills, err = r.ListProfileSkills(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateProfile writes the editable fields of a profile and its account.
func (r Repo) UpdateProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `UPDATE accounts SET email=?, first_name=?, last_name=? WHERE id=?`,
		nullable(p.Email), p.FirstName, p.LastName, p.AccountID); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `UPDATE profiles SET location=?, description=?, photo=?, updated_at=? WHERE id=?`,
		p.Location, nullable(p.Description), nullable(p.Photo), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) IncrementShortlistCount(ctx context.Context, tx *sql.Tx, profileID, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE profiles SET shortlist_count=shortlist_count+1, updated_at=? WHERE id=?`, now, profileID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) IncrementTasksCompleted(ctx context.Context, tx *sql.Tx, profileID, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE profiles SET tasks_completed=tasks_completed+1, updated_at=? WHERE id=?`, now, profileID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) SetProfileRating(ctx context.Context, tx *sql.Tx, profileID string, rating float64, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE profiles SET rating=?, updated_at=? WHERE id=?`, rating, now, profileID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// AverageRating returns the mean of every non-null rating recorded on the
// profile's ProfileTask rows. ok is false when no rating exists.
func (r Repo) AverageRating(ctx context.Context, tx *sql.Tx, profileID string) (avg float64, ok bool, err error) {
	var v sql.NullFloat64
	if err := r.q(tx).QueryRowContext(ctx, `SELECT AVG(rating) FROM profile_tasks WHERE profile_id=? AND rating IS NOT NULL`, profileID).Scan(&v); err != nil {
		return 0, false, err
	}
	return v.Float64, v.Valid, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
