package middleware

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/hashicorp/go-bexpr"

	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/config"
	"github.com/terraconstructs/gridauth/cmd/gridauth/internal/services/iam"
)

// classifier matches a path by regular expression, bexpr rule, or both. The zero value
// matches nothing.
type classifier struct {
	expression *regexp.Regexp
	rule       *bexpr.Evaluator
}

func (c classifier) matches(p string) bool {
	if c.expression != nil && c.expression.MatchString(p) {
		return true
	}
	if c.rule == nil {
		return false
	}
	// Rules that reference unknown fields fail evaluation and match nothing
	ok, err := c.rule.Evaluate(pathFields(p))
	return err == nil && ok
}

// pathFields is the datum bexpr rules are evaluated against.
func pathFields(p string) map[string]any {
	segment := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}
	return map[string]any{
		"path":      p,
		"segment":   segment,
		"extension": path.Ext(p),
	}
}

// Resources classifies request paths with the configured expressions and rules.
type Resources struct {
	anonymous           classifier
	alternate           classifier
	authFailureRedirect classifier
	loginPage           string
	logoutPage          string
	authTestPage        string
}

var _ iam.ResourceClassifier = (*Resources)(nil)

// NewResources compiles the resource expressions and rules.
func NewResources(cfg config.ResourceConfig) (*Resources, error) {
	r := &Resources{
		loginPage:    cfg.LoginPage,
		logoutPage:   cfg.LogoutPage,
		authTestPage: cfg.AuthTestPage,
	}
	for _, c := range []struct {
		name       string
		expression string
		rule       string
		target     *classifier
	}{
		{"anonymous", cfg.AnonymousExpression, cfg.AnonymousRule, &r.anonymous},
		{"alternate", cfg.AlternateExpression, cfg.AlternateRule, &r.alternate},
		{"auth failure redirect", cfg.AuthFailureRedirectExpression, cfg.AuthFailureRedirectRule, &r.authFailureRedirect},
	} {
		if c.expression != "" {
			compiled, err := regexp.Compile(c.expression)
			if err != nil {
				return nil, fmt.Errorf("compile %s expression: %w", c.name, err)
			}
			c.target.expression = compiled
		}
		if strings.TrimSpace(c.rule) != "" {
			evaluator, err := bexpr.CreateEvaluator(c.rule)
			if err != nil {
				return nil, fmt.Errorf("compile %s rule: %w", c.name, err)
			}
			c.target.rule = evaluator
		}
	}
	return r, nil
}

// IsAnonymous reports whether path is served without authentication. The login page
// is always anonymous so a failed login cannot redirect to itself.
func (r *Resources) IsAnonymous(path string) bool {
	return path == r.loginPage || r.anonymous.matches(path)
}

func (r *Resources) IsAlternate(path string) bool {
	return r.alternate.matches(path)
}

func (r *Resources) IsAuthFailureRedirect(path string) bool {
	return r.authFailureRedirect.matches(path)
}

func (r *Resources) LoginPage() string    { return r.loginPage }
func (r *Resources) LogoutPage() string   { return r.logoutPage }
func (r *Resources) AuthTestPage() string { return r.authTestPage }
