package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

const userColumns = `id, name, username, email, matricule, promotion_id, referential_id,
	is_active, roles, password_hash, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Username      string         `db:"username"`
	Email         string         `db:"email"`
	Matricule     null.String    `db:"matricule"`
	PromotionID   string         `db:"promotion_id"`
	ReferentialID string         `db:"referential_id"`
	IsActive      bool           `db:"is_active"`
	Roles         pq.StringArray `db:"roles"`
	PasswordHash  null.Bytes     `db:"password_hash"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	LastLogin     null.Time      `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	return userRow{
		ID:            usr.ID,
		Name:          usr.Name,
		Username:      usr.Username,
		Email:         usr.Email,
		Matricule:     null.NewString(usr.Matricule, usr.Matricule != ""),
		PromotionID:   usr.PromotionID,
		ReferentialID: usr.ReferentialID,
		IsActive:      usr.IsActive,
		Roles:         pq.StringArray(usr.Roles),
		PasswordHash:  null.NewBytes(usr.PasswordHash, len(usr.PasswordHash) > 0),
		CreatedAt:     usr.CreatedAt.UTC(),
		UpdatedAt:     usr.UpdatedAt.UTC(),
		LastLogin:     null.TimeFromPtr(usr.LastLogin),
	}
}

func (r userRow) toUser() user.User {
	usr := user.User{
		ID:            r.ID,
		Name:          r.Name,
		Username:      r.Username,
		Email:         r.Email,
		Matricule:     r.Matricule.String,
		PromotionID:   r.PromotionID,
		ReferentialID: r.ReferentialID,
		IsActive:      r.IsActive,
		Roles:         []string(r.Roles),
		PasswordHash:  r.PasswordHash.Bytes,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		ll := r.LastLogin.Time.UTC()
		usr.LastLogin = &ll
	}
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email, matricule string, excludedUsers ...user.User) error {
	excluded := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded = append(excluded, u.ID)
	}

	var rows []userRow
	q := `SELECT ` + userColumns + ` FROM users
		WHERE ((username <> '' AND username = $1) OR (email <> '' AND email = $2) OR matricule = $3)
		AND NOT (id::text = ANY($4))
		LIMIT 3`
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, username, email, null.NewString(matricule, matricule != ""), pq.StringArray(excluded)); err != nil {
		return wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		switch {
		case username != "" && r.Username == username:
			return user.ErrUsernameExists
		case email != "" && r.Email == email:
			return user.ErrEmailExists
		case matricule != "" && r.Matricule.String == matricule:
			return user.ErrMatriculeExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :name, :username, :email, :matricule, :promotion_id, :referential_id,
			:is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toUserRow(usr)); err != nil {
		if isUniqueViolation(err, "users_matricule_key") {
			return user.User{}, user.ErrMatriculeExists
		}
		return user.User{}, wrap(err, "inserting user")
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE users SET
			name = :name, username = :username, email = :email, matricule = :matricule,
			promotion_id = :promotion_id, referential_id = :referential_id, is_active = :is_active,
			roles = :roles, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toUserRow(usr))
	if err != nil {
		return user.User{}, wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) getOne(ctx context.Context, where string, arg interface{}) (user.User, error) {
	var r userRow
	if err := repo.db.GetContext(ctx, &r, `SELECT `+userColumns+` FROM users WHERE `+where, arg); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user")
	}
	return r.toUser(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if !isUUID(id) {
		return user.User{}, user.ErrNotFound
	}
	return repo.getOne(ctx, "id = $1", id)
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	if username == "" {
		return user.User{}, user.ErrNotFound
	}
	return repo.getOne(ctx, "username = $1 OR email = $1", username)
}

func (repo *userRepository) GetUserByMatricule(ctx context.Context, matricule string) (user.User, error) {
	if matricule == "" {
		return user.User{}, user.ErrNotFound
	}
	return repo.getOne(ctx, "matricule = $1", matricule)
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// users with Name, Username, Email or Matricule matching the search keyword
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		conds = append(conds, fmt.Sprintf("(name ILIKE %[1]s OR username ILIKE %[1]s OR email ILIKE %[1]s OR matricule ILIKE %[1]s)", p))
	}
	// users with any role that starts with any of the provided roles
	if len(filter.Roles) > 0 {
		prefixes := make([]string, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			prefixes = append(prefixes, role+"%")
		}
		conds = append(conds, fmt.Sprintf("EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE ANY(%s))", arg(pq.StringArray(prefixes))))
	}
	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}
	if filter.ReferentialID != "" {
		conds = append(conds, "referential_id = "+arg(filter.ReferentialID))
	}
	if filter.PromotionID != "" {
		conds = append(conds, "promotion_id = "+arg(filter.PromotionID))
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY " + core.OrderBy(ordering, userOrderings, "created_at DESC")

	var rows []userRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, wrap(err, "filtering users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}
