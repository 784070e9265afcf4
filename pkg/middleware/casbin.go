package middleware

import (
	"log"
	"net/http"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/casbin/casbin/v2/util"
	"github.com/labstack/echo/v4"

	"SportsQuizPlatform/internal/auth"
)

var (
	enforcer     *casbin.Enforcer
	enforcerOnce sync.Once
)

func casbinModel() string {
	return `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && r.act == p.act`
}

// InitCasbinEnforcer initializes the Casbin enforcer singleton with the
// model defined in code and the policy from rbac_policy.csv.
func InitCasbinEnforcer() (*casbin.Enforcer, error) {
	var err error
	enforcerOnce.Do(func() {
		m, errM := model.NewModelFromString(casbinModel())
		if errM != nil {
			err = errM
			return
		}
		adapter := fileadapter.NewAdapter("rbac_policy.csv")
		enforcer, err = casbin.NewEnforcer(m, adapter)
		if err != nil {
			return
		}
		enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)
	})
	return enforcer, err
}

// CasbinMiddleware enforces RBAC using Casbin for each request. The route
// template registered with echo is used as the object so policies can
// match parameterized paths.
func CasbinMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := c.Get("user").(*auth.JWTClaims)
		if !ok || claims == nil {
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"success": false,
				"message": "missing user claims",
			})
		}
		enf, err := InitCasbinEnforcer()
		if err != nil {
			log.Println("Casbin enforcer error:", err)
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"message": "RBAC system error",
			})
		}
		allowed, err := enf.Enforce(claims.Role, c.Path(), c.Request().Method)
		if err != nil {
			log.Println("Casbin enforce error:", err)
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"message": "RBAC system error",
			})
		}
		if !allowed {
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"success": false,
				"message": "insufficient permissions",
			})
		}
		return next(c)
	}
}
