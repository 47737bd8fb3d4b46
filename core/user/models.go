package user

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/academia/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Coach: reviews the justifications of the learners of their referential
	RoleCoach = "coach:"

	// Scanner: check-in kiosks & staff allowed to record scans
	RoleScanner = "scanner:"

	// Learner
	RoleLearner = "learner:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner}
	CoachRoles   = []string{RoleCoach}
	ScannerRoles = []string{RoleScanner}
	LearnerRoles = []string{RoleLearner}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner: 30,
		RoleAdmin:      21,

		// Coaches: 20 - 11
		RoleCoach: 11,

		// Scanners: 10 - 6
		RoleScanner: 6,

		// Learners: 5 - 1
		RoleLearner: 1,
	}

	Roles = []Role{
		{Name: "Learner", Value: RoleLearner},
		{Name: "Scanner", Value: RoleScanner},
		{Name: "Coach", Value: RoleCoach},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 5)
	all = append(all, AdminRoles...)
	all = append(all, CoachRoles...)
	all = append(all, ScannerRoles...)
	all = append(all, LearnerRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Matricule     string     `json:"matricule,omitempty"`
	PromotionID   string     `json:"promotion_id,omitempty"`
	ReferentialID string     `json:"referential_id,omitempty"`
	IsActive      bool       `json:"is_active"`
	Roles         []string   `json:"roles"`
	PasswordHash  []byte     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"` // UTC
	UpdatedAt     time.Time  `json:"updated_at"` // UTC
	LastLogin     *time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u User) IsAdmin() bool   { return u.RoleStartsWith(RoleAdmin) }
func (u User) IsCoach() bool   { return u.RoleStartsWith(RoleCoach) }
func (u User) IsScanner() bool { return u.RoleStartsWith(RoleScanner) }
func (u User) IsLearner() bool { return u.RoleStartsWith(RoleLearner) }

// CanReview reports whether u may review the justifications of learner.
func (u User) CanReview(learner User) bool {
	if !u.IsActive {
		return false
	}
	if u.IsAdmin() {
		return true
	}
	return u.IsCoach() && u.ReferentialID != "" && u.ReferentialID == learner.ReferentialID
}

// CanView reports whether u may read the attendance data of learner.
func (u User) CanView(learner User) bool {
	return u.ID == learner.ID || u.CanReview(learner)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Matricule       string   `json:"matricule" validate:"omitempty,max=32,excludesall=."`
	PromotionID     string   `json:"promotion_id"`
	ReferentialID   string   `json:"referential_id"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Clean() {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Matricule = CleanMatricule(nu.Matricule)
	nu.PromotionID = core.CleanString(nu.PromotionID)
	nu.ReferentialID = core.CleanString(nu.ReferentialID)
}

type QueryFilter struct {
	Search        string   `query:"search"`
	Roles         []string `query:"role"`
	IsActive      *bool    `query:"is_active"`
	ReferentialID string   `query:"referential_id"`
	PromotionID   string   `query:"promotion_id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.ReferentialID = core.CleanString(qf.ReferentialID)
	qf.PromotionID = core.CleanString(qf.PromotionID)
}

// Matches reports whether usr satisfies every set field of the filter.
// Search does a case-insensitive match on one of User.Name, User.Username, User.Email or User.Matricule.
func (qf QueryFilter) Matches(usr User) bool {
	if qf.Search != "" {
		s := strings.ToLower(qf.Search)
		if !(strings.Contains(strings.ToLower(usr.Name), s) ||
			strings.Contains(usr.Username, s) ||
			strings.Contains(usr.Email, s) ||
			strings.Contains(strings.ToLower(usr.Matricule), s)) {
			return false
		}
	}
	if len(qf.Roles) > 0 {
		var found bool
		for _, role := range qf.Roles {
			if usr.RoleStartsWith(role) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if qf.IsActive != nil && usr.IsActive != *qf.IsActive {
		return false
	}
	if qf.ReferentialID != "" && usr.ReferentialID != qf.ReferentialID {
		return false
	}
	if qf.PromotionID != "" && usr.PromotionID != qf.PromotionID {
		return false
	}
	return true
}

// CleanMatricule normalises a learner matricule: trimmed and upper-cased.
func CleanMatricule(m string) string {
	return strings.ToUpper(core.CleanString(m))
}
