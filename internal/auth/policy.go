package auth

import (
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"

	"github.com/psds-microservice/issue-tracker/internal/model"
)

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// Resources and actions checked by the role gate.
const (
	ResourceAdminHome          = "admin_home"
	ResourceDeveloperHome      = "developer_home"
	ResourceProjectManagerHome = "project_manager_home"
	ResourceUsers              = "users"

	ActionView   = "view"
	ActionManage = "manage"
)

// DefaultPolicies grant each role its own home page; admins also manage users.
var DefaultPolicies = [][]string{
	{string(model.RoleAdmin), ResourceAdminHome, ActionView},
	{string(model.RoleAdmin), ResourceUsers, ActionManage},
	{string(model.RoleDeveloper), ResourceDeveloperHome, ActionView},
	{string(model.RoleProjectManager), ResourceProjectManagerHome, ActionView},
}

// Policy answers capability questions for the enumerated roles. Policies live in memory.
type Policy struct {
	enforcer *casbin.Enforcer
	log      *slog.Logger
}

func NewPolicy(log *slog.Logger, policies [][]string) (*Policy, error) {
	m, err := casbinmodel.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("casbin enforcer: %w", err)
	}
	if len(policies) > 0 {
		if _, err := e.AddPolicies(policies); err != nil {
			return nil, fmt.Errorf("casbin policies: %w", err)
		}
	}
	return &Policy{enforcer: e, log: log}, nil
}

// Allowed reports whether role may perform act on obj. Unknown roles are always denied.
func (p *Policy) Allowed(role model.Role, obj, act string) bool {
	if !role.IsValid() {
		return false
	}
	ok, err := p.enforcer.Enforce(string(role), obj, act)
	if err != nil {
		p.log.Error("policy check failed", "error", err, "role", role, "resource", obj, "action", act)
		return false
	}
	return ok
}
