package assetpreview

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CleanupPhase names one step of the cleanup procedure.
type CleanupPhase string

const (
	PhaseUnlock          CleanupPhase = "unlock"
	PhaseDisconnect      CleanupPhase = "disconnect"
	PhaseDelete          CleanupPhase = "delete"
	PhaseRemoveNamespace CleanupPhase = "remove-namespace"
	PhaseValidate        CleanupPhase = "validate"
)

// PhaseError is a failure inside one cleanup phase. The phase continued.
type PhaseError struct {
	Phase CleanupPhase
	Ref   Ref
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("cleanup %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("cleanup %s %s: %v", e.Phase, e.Ref, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// CleanupReport is the outcome of unwinding one session.
type CleanupReport struct {
	Session string
	// Residue lists objects that survived: still under the session namespace,
	// or moved into the quarantine namespace.
	Residue     []Ref
	Quarantined bool
	Errors      []error
}

// Clean reports whether nothing was left behind.
func (r CleanupReport) Clean() bool {
	return len(r.Residue) == 0
}

// Err returns a *CleanupResidue when objects were left behind, nil otherwise.
func (r CleanupReport) Err() error {
	if r.Clean() {
		return nil
	}
	return &CleanupResidue{
		Session:     r.Session,
		Residue:     append([]Ref(nil), r.Residue...),
		Quarantined: r.Quarantined,
		Errors:      append([]error(nil), r.Errors...),
	}
}

// CleanupEngine removes a session's content from the host in five phases:
// unlock, disconnect, delete, remove namespace, validate. Every phase keeps
// going past individual failures.
type CleanupEngine struct {
	cfg  *config
	host Host
}

// NewCleanupEngine returns an engine working on host.
func NewCleanupEngine(host Host, options ...Option) *CleanupEngine {
	cfg := defaultConfig()
	for _, option := range options {
		option(cfg)
	}
	return newCleanupEngine(cfg, host)
}

func newCleanupEngine(cfg *config, host Host) *CleanupEngine {
	return &CleanupEngine{cfg: cfg, host: host}
}

// cleanupRun carries the state passed between phases.
type cleanupRun struct {
	session  *Session
	report   CleanupReport
	force    map[Ref]struct{} // failed to unlock, go straight to forced deletion
	dangling map[Ref]Connection
	residue  []Ref // survived phase 3
}

// Run unwinds s. It never returns an error: failures are in the report.
func (e *CleanupEngine) Run(ctx context.Context, s *Session) CleanupReport {
	ctx, span := tracer.Start(ctx, "cleanup", trace.WithAttributes(attribute.String("session", s.id)))
	defer span.End()

	run := &cleanupRun{
		session:  s,
		report:   CleanupReport{Session: s.id},
		force:    make(map[Ref]struct{}),
		dangling: make(map[Ref]Connection),
	}

	e.phase(ctx, run, PhaseUnlock, e.unlock)
	e.phase(ctx, run, PhaseDisconnect, e.disconnect)
	e.phase(ctx, run, PhaseDelete, e.deleteObjects)
	e.phase(ctx, run, PhaseRemoveNamespace, e.removeNamespace)
	e.phase(ctx, run, PhaseValidate, e.validate)

	if !run.report.Clean() {
		span.SetStatus(codes.Error, "cleanup left residue")
		e.cfg.logger.Error().
			Str("session", s.id).
			Strs("residue", refStrings(run.report.Residue)).
			Bool("quarantined", run.report.Quarantined).
			Msg("cleanup failure")
	}
	return run.report
}

// phase runs one phase in its own span. A panic inside a phase is recorded
// and the next phase still runs.
func (e *CleanupEngine) phase(ctx context.Context, run *cleanupRun, name CleanupPhase, fn func(run *cleanupRun)) {
	_, span := tracer.Start(ctx, "cleanup."+string(name))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err := &PhaseError{Phase: name, Err: fmt.Errorf("panic: %v", r)}
			span.RecordError(err)
			run.fail(e, err)
		}
	}()
	fn(run)
}

func (run *cleanupRun) fail(e *CleanupEngine, err *PhaseError) {
	run.report.Errors = append(run.report.Errors, err)
	e.cfg.logger.Warn().
		Err(err.Err).
		Str("session", run.session.id).
		Str("phase", string(err.Phase)).
		Str("ref", string(err.Ref)).
		Msg("cleanup step failed")
}

// unlock clears the lock flag of every locked object. Objects that stay
// locked are deleted by force in the delete phase.
func (e *CleanupEngine) unlock(run *cleanupRun) {
	for _, ref := range run.session.LockedObjects() {
		if err := e.host.SetLocked(ref, false); err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				continue
			}
			run.force[ref] = struct{}{}
			run.fail(e, &PhaseError{Phase: PhaseUnlock, Ref: ref, Err: err})
		}
	}
}

// disconnect severs every external connection. A connection that cannot be
// severed is tolerated only if its owner is deleted later.
func (e *CleanupEngine) disconnect(run *cleanupRun) {
	for _, conn := range run.session.Connections() {
		if err := e.host.Disconnect(conn); err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				continue
			}
			run.dangling[conn.Owner] = conn
			run.fail(e, &PhaseError{Phase: PhaseDisconnect, Ref: conn.Owner, Err: err})
		}
	}
}

// deleteObjects removes every registered object, deepest first. Direct
// deletion falls back to forced deletion; what survives both is residue.
func (e *CleanupEngine) deleteObjects(run *cleanupRun) {
	refs := run.session.Objects()
	depths := run.session.depths()
	sort.SliceStable(refs, func(i, j int) bool { return depths[refs[i]] > depths[refs[j]] })

	for _, ref := range refs {
		if _, forced := run.force[ref]; !forced {
			err := e.host.Delete(ref)
			if err == nil || errors.Is(err, ErrObjectNotFound) {
				continue
			}
			run.fail(e, &PhaseError{Phase: PhaseDelete, Ref: ref, Err: err})
		}

		err := e.host.ForceDelete(ref)
		if err == nil || errors.Is(err, ErrObjectNotFound) {
			continue
		}
		run.fail(e, &PhaseError{Phase: PhaseDelete, Ref: ref, Err: fmt.Errorf("forced deletion: %w", err)})
		run.residue = append(run.residue, ref)
	}

	for owner, conn := range run.dangling {
		if containsRef(run.residue, owner) {
			run.fail(e, &PhaseError{Phase: PhaseDelete, Ref: owner, Err: fmt.Errorf("connection %s left dangling", conn.ID)})
		}
	}
}

// removeNamespace removes the session namespace: plain, then recursive, then
// by merging what is left into the quarantine namespace.
func (e *CleanupEngine) removeNamespace(run *cleanupRun) {
	ns := run.session.id
	err := e.host.RemoveNamespace(ns)
	if err == nil || errors.Is(err, ErrObjectNotFound) {
		return
	}
	run.fail(e, &PhaseError{Phase: PhaseRemoveNamespace, Err: err})

	err = e.host.RemoveNamespaceRecursive(ns)
	if err == nil {
		return
	}
	run.fail(e, &PhaseError{Phase: PhaseRemoveNamespace, Err: fmt.Errorf("recursive removal: %w", err)})

	left, err := e.host.RefsUnderNamespace(ns)
	if err != nil {
		run.fail(e, &PhaseError{Phase: PhaseRemoveNamespace, Err: err})
	}
	if err := e.host.MergeNamespace(ns, QuarantineNamespace); err != nil {
		run.fail(e, &PhaseError{Phase: PhaseRemoveNamespace, Err: fmt.Errorf("quarantine: %w", err)})
		return
	}
	run.report.Quarantined = true
	run.report.Residue = append(run.report.Residue, left...)
	e.cfg.logger.Warn().Str("session", ns).Strs("refs", refStrings(left)).Msg("cleanup residue moved to quarantine")

	if err := e.host.RemoveNamespace(ns); err != nil && !errors.Is(err, ErrObjectNotFound) {
		run.fail(e, &PhaseError{Phase: PhaseRemoveNamespace, Err: err})
	}
}

// validate rescans the workspace for anything still in the session namespace.
func (e *CleanupEngine) validate(run *cleanupRun) {
	left, err := e.host.RefsUnderNamespace(run.session.id)
	if err != nil {
		run.fail(e, &PhaseError{Phase: PhaseValidate, Err: err})
		// Without a scan, assume the phase-3 residue is still there.
		for _, ref := range run.residue {
			if !containsRef(run.report.Residue, ref) {
				run.report.Residue = append(run.report.Residue, ref)
			}
		}
		return
	}
	for _, ref := range left {
		if !containsRef(run.report.Residue, ref) {
			run.report.Residue = append(run.report.Residue, ref)
		}
	}
}

func containsRef(refs []Ref, ref Ref) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func refStrings(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = string(ref)
	}
	return out
}
