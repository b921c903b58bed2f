// Package lifecycle holds the project status model: the closed set of status
// tags, the transition table, and the role-aware check every mutation runs
// before it writes.
package lifecycle

import (
	"fmt"
	"sort"
	"strings"
)

type Status string

const (
	Draft             Status = "draft"
	Submitted         Status = "submitted"
	Analyzing         Status = "analyzing"
	Quoted            Status = "quoted"
	PaymentPending    Status = "payment_pending"
	Paid              Status = "paid"
	Assigning         Status = "assigning"
	Assigned          Status = "assigned"
	InProgress        Status = "in_progress"
	SubmittedForQC    Status = "submitted_for_qc"
	QCInProgress      Status = "qc_in_progress"
	QCApproved        Status = "qc_approved"
	QCRejected        Status = "qc_rejected"
	Delivered         Status = "delivered"
	RevisionRequested Status = "revision_requested"
	InRevision        Status = "in_revision"
	Completed         Status = "completed"
	AutoApproved      Status = "auto_approved"
	Cancelled         Status = "cancelled"
	Refunded          Status = "refunded"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	Draft, Submitted, Analyzing, Quoted, PaymentPending, Paid, Assigning, Assigned,
	InProgress, SubmittedForQC, QCInProgress, QCApproved, QCRejected, Delivered,
	RevisionRequested, InRevision, Completed, AutoApproved, Cancelled, Refunded,
}

var order = func() map[Status]int {
	m := make(map[Status]int, len(Statuses))
	for i, s := range Statuses {
		m[s] = i
	}
	return m
}()

func (s Status) Valid() bool {
	_, ok := order[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case Completed, AutoApproved, Cancelled, Refunded:
		return true
	}
	return false
}

// Parse converts a raw tag into a Status.
func Parse(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

type Role string

const (
	RoleDoer       Role = "doer"
	RoleSupervisor Role = "supervisor"
	RoleClient     Role = "client"
	RoleSystem     Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoer, RoleSupervisor, RoleClient, RoleSystem:
		return true
	}
	return false
}

// ParseRole converts a raw role name into a Role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(raw))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Amounts is the monetary split fixed at the quoted transition.
type Amounts struct {
	UserQuote            int64 `json:"user_quote"`
	DoerPayout           int64 `json:"doer_payout"`
	SupervisorCommission int64 `json:"supervisor_commission"`
	PlatformFee          int64 `json:"platform_fee"`
}

func (a Amounts) nonNegative() bool {
	return a.UserQuote >= 0 && a.DoerPayout >= 0 && a.SupervisorCommission >= 0 && a.PlatformFee >= 0
}

// Snapshot is the slice of a project record the checks read.
type Snapshot struct {
	Status       Status
	SupervisorID string
	DoerID       string
	Quote        *Amounts
}

// Facts carries the proposed values and gathered evidence for one request.
// Empty proposed values fall back to the snapshot.
type Facts struct {
	DoerID           string
	DoerAvailable    bool
	Deliverables     int
	Feedback         string
	Reason           string
	PaymentReference string
	Quote            *Amounts
}

func (f Facts) doerID(s Snapshot) string {
	if f.DoerID != "" {
		return f.DoerID
	}
	return s.DoerID
}

func (f Facts) quote(s Snapshot) *Amounts {
	if f.Quote != nil {
		return f.Quote
	}
	return s.Quote
}

type Kind string

const (
	UnknownTransition   Kind = "unknown_transition"
	ForbiddenForRole    Kind = "forbidden_for_role"
	MissingPrecondition Kind = "missing_precondition"
)

// Rejection explains why a transition was refused. Message is meant for the
// acting user.
type Rejection struct {
	From    Status
	To      Status
	Role    Role
	Kind    Kind
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// precondition returns a non-empty explanation when it does not hold.
type precondition func(s Snapshot, f Facts) string

type edge struct {
	from, to Status
}

type rule struct {
	roles []Role
	// guards read the stored record and apply to every caller alike.
	guards []precondition
	// checks validate what the caller supplied; they only run for allowed roles.
	checks []precondition
}

func (r rule) allows(role Role) bool {
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

func unclaimed(s Snapshot, _ Facts) string {
	if s.SupervisorID != "" {
		return "project is already claimed by a supervisor"
	}
	return ""
}

func quoteSet(s Snapshot, f Facts) string {
	q := f.quote(s)
	if q == nil {
		return "quote amounts have not been computed"
	}
	if !q.nonNegative() {
		return "quote amounts must not be negative"
	}
	return ""
}

func paymentConfirmed(_ Snapshot, f Facts) string {
	if strings.TrimSpace(f.PaymentReference) == "" {
		return "no payment confirmation received"
	}
	return ""
}

func doerReady(s Snapshot, f Facts) string {
	if f.doerID(s) == "" {
		return "no doer selected"
	}
	if !f.DoerAvailable {
		return "the selected doer is not available"
	}
	return ""
}

func hasDeliverable(_ Snapshot, f Facts) string {
	if f.Deliverables < 1 {
		return "upload at least one deliverable first"
	}
	return ""
}

func hasFeedback(_ Snapshot, f Facts) string {
	if strings.TrimSpace(f.Feedback) == "" {
		return "revision feedback is required"
	}
	return ""
}

func hasReason(_ Snapshot, f Facts) string {
	if strings.TrimSpace(f.Reason) == "" {
		return "a cancellation reason is required"
	}
	return ""
}

var table = buildTable()

func buildTable() map[edge]rule {
	t := map[edge]rule{}
	add := func(froms []Status, tos []Status, roles []Role, checks ...precondition) {
		for _, from := range froms {
			for _, to := range tos {
				t[edge{from, to}] = rule{roles: roles, checks: checks}
			}
		}
	}
	guarded := func(froms []Status, tos []Status, roles []Role, guards ...precondition) {
		for _, from := range froms {
			for _, to := range tos {
				t[edge{from, to}] = rule{roles: roles, guards: guards}
			}
		}
	}
	one := func(s ...Status) []Status { return s }
	roles := func(r ...Role) []Role { return r }

	add(one(Draft), one(Submitted), roles(RoleClient, RoleSystem))
	guarded(one(Submitted, Analyzing), one(Analyzing), roles(RoleSupervisor), unclaimed)
	add(one(Analyzing), one(Quoted), roles(RoleSupervisor), quoteSet)
	add(one(Quoted), one(PaymentPending), roles(RoleSystem))
	add(one(Quoted, PaymentPending), one(Paid), roles(RoleSystem), paymentConfirmed)
	add(one(Paid), one(Assigning), roles(RoleSupervisor))
	add(one(Paid, Assigning), one(Assigned), roles(RoleSupervisor), doerReady)
	add(one(Assigned), one(InProgress), roles(RoleDoer))
	add(one(InProgress, InRevision), one(SubmittedForQC), roles(RoleDoer), hasDeliverable)
	add(one(SubmittedForQC), one(QCInProgress, QCApproved, QCRejected, Delivered), roles(RoleSupervisor))
	add(one(QCInProgress), one(QCApproved, QCRejected, Delivered), roles(RoleSupervisor))
	add(one(QCApproved), one(Delivered), roles(RoleSupervisor))
	add(one(QCRejected, Delivered), one(RevisionRequested), roles(RoleSupervisor, RoleClient), hasFeedback)
	add(one(RevisionRequested), one(InRevision), roles(RoleDoer))
	add(one(Delivered), one(Completed), roles(RoleClient, RoleSupervisor))
	add(one(Delivered), one(AutoApproved), roles(RoleSystem))
	for _, from := range Statuses {
		if from.Terminal() {
			continue
		}
		add(one(from), one(Cancelled, Refunded), roles(RoleSupervisor, RoleSystem), hasReason)
	}
	return t
}

var verbs = map[Status]string{
	Submitted:         "submit",
	Analyzing:         "claim",
	Quoted:            "quote",
	PaymentPending:    "await payment",
	Paid:              "mark paid",
	Assigning:         "start assignment",
	Assigned:          "assign",
	InProgress:        "start",
	SubmittedForQC:    "submit for QC",
	QCInProgress:      "start QC",
	QCApproved:        "approve",
	QCRejected:        "reject",
	Delivered:         "deliver",
	RevisionRequested: "request revision",
	InRevision:        "start revision",
	Completed:         "complete",
	AutoApproved:      "auto-approve",
	Cancelled:         "cancel",
	Refunded:          "refund",
}

func verb(to Status) string {
	if v, ok := verbs[to]; ok {
		return v
	}
	return "move to " + string(to)
}

// Check decides whether role may move the project in s to the target status.
// It returns nil when the transition is allowed and a *Rejection otherwise.
// Record guards, such as an existing claim, are evaluated before the role and
// reported to every caller alike. Checks on supplied input (reason, feedback,
// payment reference, deliverables) only run once the role is permitted.
func Check(s Snapshot, to Status, role Role, f Facts) error {
	reject := func(kind Kind, msg string) error {
		return &Rejection{From: s.Status, To: to, Role: role, Kind: kind, Message: msg}
	}
	r, ok := table[edge{s.Status, to}]
	if !ok {
		if s.Status == to {
			return reject(UnknownTransition, fmt.Sprintf("cannot %s: project is already %s", verb(to), to))
		}
		return reject(UnknownTransition, fmt.Sprintf("cannot %s: project is %s", verb(to), s.Status))
	}
	for _, guard := range r.guards {
		if msg := guard(s, f); msg != "" {
			return reject(MissingPrecondition, fmt.Sprintf("cannot %s: %s", verb(to), msg))
		}
	}
	if !r.allows(role) {
		return reject(ForbiddenForRole, fmt.Sprintf("cannot %s: not permitted for role %s", verb(to), role))
	}
	for _, check := range r.checks {
		if msg := check(s, f); msg != "" {
			return reject(MissingPrecondition, fmt.Sprintf("cannot %s: %s", verb(to), msg))
		}
	}
	return nil
}

// Targets lists the statuses role may request from the given status, ignoring
// preconditions.
func Targets(from Status, role Role) []Status {
	var out []Status
	for e, r := range table {
		if e.from == from && r.allows(role) {
			out = append(out, e.to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}

// Transition describes one row of the table.
type Transition struct {
	From  Status `json:"from"`
	To    Status `json:"to"`
	Roles []Role `json:"roles"`
}

// Table returns every transition sorted by source then target.
func Table() []Transition {
	out := make([]Transition, 0, len(table))
	for e, r := range table {
		out = append(out, Transition{From: e.from, To: e.to, Roles: append([]Role(nil), r.roles...)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return order[out[i].From] < order[out[j].From]
		}
		return order[out[i].To] < order[out[j].To]
	})
	return out
}

// Exists reports whether any role may move from one status to another.
func Exists(from, to Status) bool {
	_, ok := table[edge{from, to}]
	return ok
}
