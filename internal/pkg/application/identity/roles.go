package identity

import (
	"strings"

	"github.com/diwise/facility-mgmt/internal/pkg/infrastructure/repositories/database"
)

type Role int

const (
	Other Role = iota
	Admin
	FacilityStaff
	Teacher
)

func (r Role) String() string {
	switch r {
	case Admin:
		return "admin"
	case FacilityStaff:
		return "facility_staff"
	case Teacher:
		return "teacher"
	}
	return "other"
}

var synonyms = map[string]Role{
	"admin": Admin,

	"facility_staff":           FacilityStaff,
	"facility staff":           FacilityStaff,
	"facility":                 FacilityStaff,
	"staff":                    FacilityStaff,
	"nhân viên csvc":           FacilityStaff,
	"nhân viên cơ sở vật chất": FacilityStaff,
	"nhan vien csvc":           FacilityStaff,

	"teacher":    Teacher,
	"giáo viên":  Teacher,
	"giao vien":  Teacher,
	"giảng viên": Teacher,
}

// ParseRole translates a stored role name into a Role. Unknown names map to Other.
func ParseRole(name string) Role {
	if r, ok := synonyms[strings.ToLower(strings.TrimSpace(name))]; ok {
		return r
	}
	return Other
}

// ResolveRole decides the effective role of a principal. The platform staff and
// superuser flags take precedence over the application role.
func ResolveRole(p *database.Principal, u *database.AppUser) Role {
	if p == nil {
		return Other
	}

	if p.IsSuperuser || p.IsStaff {
		return Admin
	}

	if u == nil {
		return Other
	}

	return ParseRole(u.RoleName())
}

func LandingFor(r Role) string {
	switch r {
	case Admin:
		return "/admin-dashboard"
	case FacilityStaff:
		return "/facility/"
	case Teacher:
		return "/teacher/"
	}
	return "/map"
}

// MirrorPrincipal derives the principal for an application user. The existing
// principal, when there is one, keeps its id and superuser flag.
func MirrorPrincipal(u database.AppUser, existing *database.Principal) database.Principal {
	p := database.Principal{}
	if existing != nil {
		p = *existing
	}

	p.Username = u.Username
	p.PasswordHash = u.Password
	p.IsStaff = ParseRole(u.RoleName()) == Admin
	p.Active = true

	return p
}
