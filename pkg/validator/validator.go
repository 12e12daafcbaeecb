// Copyright 2026 PROVENIQ
//
// Submission Validator - policy checks applied to a client submission
// before the append coordinator opens a transaction. Everything here is
// pure: no I/O, no clock, no storage access.

package validator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/terryholliday/proveniq-ops/pkg/errcode"
	"github.com/terryholliday/proveniq-ops/pkg/registry"
)

// forbiddenFields are server-minted; a submission containing any of them is
// rejected before policy evaluation.
var forbiddenFields = map[string]struct{}{
	"event_id":          {},
	"asset_id":          {},
	"aggregate_version": {},
	"emitter_class":     {},
	"emitter_id":        {},
	"timestamp":         {},
	"prev_event_hash":   {},
	"event_hash":        {},
	"signature":         {},
	"tenant_id":         {},
	"role":              {},
}

// Submission is a client event body that passed all validation gates.
type Submission struct {
	EventType    string
	Evidence     map[string]interface{}
	Payload      map[string]interface{}
	EmitterClass registry.EmitterClass
	// Body is the submission exactly as received; it feeds the request
	// fingerprint so replays hash the client's own object.
	Body map[string]interface{}
}

// EvidenceHash returns evidence.evidence_hash when it is a non-empty string.
func (s *Submission) EvidenceHash() (string, bool) {
	h, ok := s.Evidence["evidence_hash"].(string)
	if !ok || h == "" {
		return "", false
	}
	return h, true
}

// WaiverReason returns evidence.waiver_reason when present and non-empty.
func (s *Submission) WaiverReason() (string, bool) {
	r, ok := s.Evidence["waiver_reason"].(string)
	if !ok || r == "" {
		return "", false
	}
	return r, true
}

// Validate runs the full pre-transaction gate: forbidden fields, shape,
// event-type existence, role/emitter-class authorization, evidence policy.
// Errors carry errcode taxonomy codes for the transport edge.
func Validate(reg *registry.Registry, role string, body map[string]interface{}) (*Submission, error) {
	if err := rejectForbiddenFields(body); err != nil {
		return nil, err
	}

	eventType, ok := body["event_type"].(string)
	if !ok || eventType == "" {
		return nil, errcode.New(errcode.BadRequest, "event_type must be a non-empty string")
	}
	evidence, ok := body["evidence"].(map[string]interface{})
	if !ok {
		return nil, errcode.New(errcode.BadRequest, "evidence must be an object")
	}
	payload, ok := body["payload"].(map[string]interface{})
	if !ok {
		return nil, errcode.New(errcode.BadRequest, "payload must be an object")
	}

	entry, err := reg.Get(eventType)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownEventType, eventType, err)
	}

	class, err := EmitterClassForRole(role)
	if err != nil {
		return nil, err
	}
	if !entry.AllowsRole(role) {
		return nil, errcode.New(errcode.PermissionDenied,
			fmt.Sprintf("role %s cannot emit %s", role, eventType))
	}
	if !entry.AllowsClass(class) {
		return nil, errcode.New(errcode.PermissionDenied,
			fmt.Sprintf("emitter class %s not allowed for %s", class, eventType))
	}

	sub := &Submission{
		EventType:    eventType,
		Evidence:     evidence,
		Payload:      payload,
		EmitterClass: class,
		Body:         body,
	}
	// Every envelope carries an evidence hash; the builder chains it into
	// the event hash.
	if _, ok := sub.EvidenceHash(); !ok {
		return nil, errcode.New(errcode.BadRequest, "evidence.evidence_hash must be a non-empty string")
	}
	if err := checkEvidencePolicy(entry.EvidencePolicy, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func rejectForbiddenFields(body map[string]interface{}) error {
	var injected []string
	for k := range body {
		if _, bad := forbiddenFields[k]; bad {
			injected = append(injected, k)
		}
	}
	if len(injected) == 0 {
		return nil
	}
	sort.Strings(injected)
	return errcode.New(errcode.BadRequest,
		"client must not supply server fields: "+strings.Join(injected, ", "))
}

// EmitterClassForRole maps an authenticated role onto its emitter class.
func EmitterClassForRole(role string) (registry.EmitterClass, error) {
	switch role {
	case "USER", "MANAGER", "ADMIN":
		return registry.EmitterHuman, nil
	case "SYSTEM":
		return registry.EmitterSystem, nil
	case "LEDGER_EXTERNAL":
		return registry.EmitterLedgerExternal, nil
	default:
		return "", errcode.New(errcode.InvalidRole, "role")
	}
}

// checkEvidencePolicy enforces the registry-vs-submission policy matrix.
func checkEvidencePolicy(required registry.EvidencePolicy, sub *Submission) error {
	submitted, _ := sub.Evidence["policy"].(string)
	p := registry.EvidencePolicy(submitted)

	violation := func() error {
		return errcode.New(errcode.EvidencePolicyViolation,
			fmt.Sprintf("registry requires %s, submission declared %q", required, submitted))
	}

	switch required {
	case registry.EvidenceRequired:
		if p != registry.EvidenceRequired {
			return violation()
		}
	case registry.EvidenceInheritLast:
		if p != registry.EvidenceInheritLast && p != registry.EvidenceRequired {
			return violation()
		}
	case registry.EvidenceOptional:
		switch p {
		case registry.EvidenceOptional, registry.EvidenceRequired,
			registry.EvidenceInheritLast, registry.EvidenceWaiver:
		default:
			return violation()
		}
	default:
		return errcode.New(errcode.Internal, "unknown registry evidence policy")
	}

	if p == registry.EvidenceWaiver {
		if _, ok := sub.WaiverReason(); !ok {
			return errcode.New(errcode.EvidencePolicyViolation, "WAIVER requires waiver_reason")
		}
	}
	return nil
}

// ParseIfMatch extracts the expected aggregate version from an If-Match
// header: optional W/ prefix, optional surrounding double quotes, then a
// decimal integer.
func ParseIfMatch(header string) (int64, error) {
	v := strings.TrimSpace(header)
	if strings.HasPrefix(v, "W/") {
		v = strings.TrimSpace(v[2:])
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	if v == "" {
		return 0, errcode.New(errcode.BadRequest, "If-Match")
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, errcode.New(errcode.BadRequest, "If-Match")
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errcode.New(errcode.BadRequest, "If-Match")
	}
	return n, nil
}
