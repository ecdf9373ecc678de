package dispatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/example/storefront-bot/internal/domain"
)

// Pattern решает, подходит ли правило к событию.
type Pattern interface {
	Match(ev domain.InboundEvent) bool
	String() string
}

type exactPattern struct {
	kind domain.EventKind
	name string
}

func (p exactPattern) Match(ev domain.InboundEvent) bool {
	return ev.Kind == p.kind && ev.Name == p.name
}

func (p exactPattern) String() string { return fmt.Sprintf("%s=%s", p.kind, p.name) }

type prefixPattern struct {
	kind   domain.EventKind
	prefix string
}

func (p prefixPattern) Match(ev domain.InboundEvent) bool {
	return ev.Kind == p.kind && strings.HasPrefix(ev.Name, p.prefix)
}

func (p prefixPattern) String() string { return fmt.Sprintf("%s^%s", p.kind, p.prefix) }

type regexPattern struct {
	kind domain.EventKind
	re   *regexp.Regexp
}

func (p regexPattern) Match(ev domain.InboundEvent) bool {
	return ev.Kind == p.kind && p.re.MatchString(ev.Name)
}

func (p regexPattern) String() string { return fmt.Sprintf("%s~%s", p.kind, p.re) }

// Command совпадает с командой бота по имени, без ведущего слэша.
func Command(name string) Pattern {
	return exactPattern{kind: domain.KindCommand, name: strings.ToLower(strings.TrimPrefix(name, "/"))}
}

// Action совпадает с данными кнопки целиком.
func Action(data string) Pattern {
	return exactPattern{kind: domain.KindCallbackAction, name: data}
}

// ActionPrefix совпадает с данными кнопки по префиксу, например "buy_".
func ActionPrefix(prefix string) Pattern {
	return prefixPattern{kind: domain.KindCallbackAction, prefix: prefix}
}

// ActionRegex проверяет данные кнопки по expr. Паникует на неверном выражении.
func ActionRegex(expr string) Pattern {
	return regexPattern{kind: domain.KindCallbackAction, re: regexp.MustCompile(expr)}
}
