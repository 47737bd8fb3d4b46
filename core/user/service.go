package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("user")
	ErrLearnerNotFound   = core.NewNotFoundError("learner")
	ErrEmailExists       = errors.New("a user with this email already exists")
	ErrUsernameExists    = errors.New("a user with this username already exists")
	ErrMatriculeExists   = errors.New("a user with this matricule already exists")
	ErrMatriculeRequired = errors.New("learners must have a matricule")
)

type (
	Repository interface {
		// CheckUniqueness returns one of ErrUsernameExists, ErrEmailExists or ErrMatriculeExists on clash.
		CheckUniqueness(ctx context.Context, username, email, matricule string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		GetUserByMatricule(ctx context.Context, matricule string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		FilterUsers(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email, matricule string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		SetPassword(ctx context.Context, usr User, pwd string) (User, error)
		SetActive(ctx context.Context, usr User, active bool) (User, error)

		// learner directory

		// ResolveLearner maps a scan identifier (badge payload, matricule or user ID) to an active learner.
		ResolveLearner(ctx context.Context, identifier string) (User, error)
		ListLearners(ctx context.Context) ([]User, error)
		// ReviewersFor returns the active coaches of the learner's referential, or every active admin when it has none.
		ReviewersFor(ctx context.Context, learner User) ([]User, error)
	}

	service struct {
		repo      Repository
		secretKey string
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, conf *core.Config) Service {
	return &service{repo: repo, secretKey: conf.SecretKey}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email, matricule string, exclUsers ...User) error {
	if err := svc.repo.CheckUniqueness(ctx, uname, email, matricule, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		case ErrMatriculeExists:
			field = "matricule"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		ID:            uuid.NewString(),
		Name:          nu.Name,
		Username:      nu.Username,
		Email:         nu.Email,
		Matricule:     nu.Matricule,
		PromotionID:   nu.PromotionID,
		ReferentialID: nu.ReferentialID,
		IsActive:      true,
		Roles:         nu.Roles,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if usr.IsLearner() && usr.Matricule == "" {
		return User{}, core.NewValidationError(ErrMatriculeRequired, core.FieldError{Field: "matricule", Error: ErrMatriculeRequired.Error()})
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, core.CleanString(id))
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	filter.Clean()
	return svc.repo.FilterUsers(ctx, filter, ordering...)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := time.Now().UTC()
	usr.LastLogin = &now
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetPassword(ctx context.Context, usr User, pwd string) (User, error) {
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetActive(ctx context.Context, usr User, active bool) (User, error) {
	usr.IsActive = active
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) ResolveLearner(ctx context.Context, identifier string) (User, error) {
	identifier = core.CleanString(identifier)
	if identifier == "" {
		return User{}, ErrLearnerNotFound
	}

	var (
		usr User
		err error
	)
	switch {
	case IsBadgeToken(identifier):
		matricule, vErr := VerifyBadgeToken(identifier, svc.secretKey)
		if vErr != nil {
			return User{}, ErrLearnerNotFound
		}
		usr, err = svc.repo.GetUserByMatricule(ctx, matricule)
	default:
		usr, err = svc.repo.GetUserByMatricule(ctx, CleanMatricule(identifier))
		if errors.Cause(err) == ErrNotFound {
			if _, pErr := uuid.Parse(identifier); pErr == nil {
				usr, err = svc.repo.GetUserByID(ctx, identifier)
			}
		}
	}
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrLearnerNotFound
		}
		return User{}, errors.Wrap(err, "resolving learner")
	}
	if !usr.IsActive || !usr.IsLearner() {
		return User{}, ErrLearnerNotFound
	}
	return usr, nil
}

func (svc *service) ListLearners(ctx context.Context) ([]User, error) {
	active := true
	return svc.repo.FilterUsers(ctx, QueryFilter{Roles: LearnerRoles, IsActive: &active})
}

func (svc *service) ReviewersFor(ctx context.Context, learner User) ([]User, error) {
	active := true
	if learner.ReferentialID != "" {
		coaches, err := svc.repo.FilterUsers(ctx, QueryFilter{
			Roles:         CoachRoles,
			IsActive:      &active,
			ReferentialID: learner.ReferentialID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "filtering coaches")
		}
		if len(coaches) > 0 {
			return coaches, nil
		}
	}
	admins, err := svc.repo.FilterUsers(ctx, QueryFilter{Roles: []string{RoleAdmin}, IsActive: &active})
	return admins, errors.Wrap(err, "filtering admins")
}
