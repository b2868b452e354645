package store

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// filterEnv declares the flat variable set every equality filter in the
// core is evaluated against: a record's top-level fields plus its open
// metadata bag. Built once; cel.NewEnv only fails on a malformed static
// declaration list, never on a caller's expression.
var filterEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(errors.Wrap(err, "building filter CEL environment"))
	}
	filterEnv = env
	HumanChatFilter = MustCompilePredicate(`metadata["human_chat"] == true`)
}

// Predicate is a compiled equality filter, used by ListSessions/ListTurns
// on the in-memory fallback Driver and by the DB Query Optimizer's
// message-history query. A nil/empty Predicate
// matches everything.
type Predicate struct {
	prg  cel.Program
	expr string
}

// CompilePredicate compiles a CEL boolean expression over the variables
// id, user_id, session_id, role, metadata.
func CompilePredicate(expr string) (*Predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return &Predicate{}, nil
	}
	ast, iss := filterEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compiling filter %q", expr)
	}
	prg, err := filterEnv.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "building program for filter %q", expr)
	}
	return &Predicate{prg: prg, expr: expr}, nil
}

// MustCompilePredicate is CompilePredicate for expressions built
// in-process from trusted inputs, never from raw user text: its only
// caller is this package's init, which compiles HumanChatFilter.
func MustCompilePredicate(expr string) *Predicate {
	p, err := CompilePredicate(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Match evaluates the predicate against a variable binding.
func (p *Predicate) Match(vars map[string]any) (bool, error) {
	if p == nil || p.prg == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return false, errors.Wrapf(err, "evaluating filter %q", p.expr)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("filter %q did not evaluate to a bool", p.expr)
	}
	return b, nil
}

// SessionVars builds the variable binding for a Session.
func SessionVars(s *Session) map[string]any {
	md := map[string]any{
		"dialogue_type": string(s.Metadata.DialogueType),
		"status":        s.Metadata.Status,
	}
	for k, v := range s.Metadata.Extra {
		md[k] = v
	}
	return map[string]any{
		"id":       s.ID,
		"user_id":  s.UserID,
		"metadata": md,
	}
}

// TurnVars builds the variable binding for a Turn.
func TurnVars(t *Turn) map[string]any {
	md := map[string]any{
		"sender_id":    t.Metadata.SenderID,
		"message_type": string(t.Metadata.MessageType),
		"human_chat":   t.Metadata.HumanChat,
	}
	for k, v := range t.Metadata.Extra {
		md[k] = v
	}
	return map[string]any{
		"id":         t.ID,
		"session_id": t.SessionID,
		"role":       string(t.Role),
		"metadata":   md,
	}
}

// BuildSessionEqualityExpr turns a FindSession into a CEL conjunction of
// equality clauses over id/user_id/metadata.*.
func BuildSessionEqualityExpr(find *FindSession) string {
	var clauses []string
	if find.ID != nil {
		clauses = append(clauses, fmt.Sprintf("id == %q", *find.ID))
	}
	if find.UserID != nil {
		clauses = append(clauses, fmt.Sprintf("user_id == %q", *find.UserID))
	}
	for k, v := range find.Metadata {
		field := strings.TrimPrefix(k, "metadata.")
		clauses = append(clauses, fmt.Sprintf("metadata[%q] == %q", field, v))
	}
	return strings.Join(clauses, " && ")
}

// BuildTurnEqualityExpr turns a FindTurn into a CEL conjunction of
// equality clauses over session_id/role/metadata.*.
func BuildTurnEqualityExpr(find *FindTurn) string {
	var clauses []string
	if find.SessionID != nil {
		clauses = append(clauses, fmt.Sprintf("session_id == %q", *find.SessionID))
	}
	if find.Role != nil {
		clauses = append(clauses, fmt.Sprintf("role == %q", string(*find.Role)))
	}
	for k, v := range find.Metadata {
		field := strings.TrimPrefix(k, "metadata.")
		clauses = append(clauses, fmt.Sprintf("metadata[%q] == %q", field, v))
	}
	return strings.Join(clauses, " && ")
}

// HumanChatFilter is the fixed predicate the DB Query Optimizer applies
// to message-history queries. Set during package init, after filterEnv.
var HumanChatFilter *Predicate
