package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
	"github.com/distrogate/autopkgtest-gate/internal/baseline"
	"github.com/distrogate/autopkgtest-gate/internal/broker"
	"github.com/distrogate/autopkgtest-gate/internal/hints"
	"github.com/distrogate/autopkgtest-gate/internal/ingest"
	"github.com/distrogate/autopkgtest-gate/internal/resultstore"
	"github.com/distrogate/autopkgtest-gate/internal/triggers"
	"github.com/distrogate/autopkgtest-gate/internal/universe"
	"github.com/distrogate/autopkgtest-gate/internal/verdict"
)

// ErrUnknownBrokerScheme is returned by NewFacade when adt_amqp names
// neither a "file://" path nor an "amqp://" endpoint.
var ErrUnknownBrokerScheme = errors.New("policy: unrecognized adt_amqp scheme")

// closeableSink is the subset of broker.KafkaSink's API the Facade needs
// to release on Close; broker.FileSink has no resources to release and is
// never wrapped.
type closeableSink interface {
	Close() error
}

// Facade composes the Result/Pending Store, Baseline Oracle, Trigger
// Resolver, Test Requester(s) and Verdict Engine behind a single
// per-candidate Evaluate entry point. One Facade serves one migration run
// (a fixed source/target suite pair); a new one is built per run by
// cmd/gate.
type Facade struct {
	cfg    Config
	logger *slog.Logger

	Store     *resultstore.Store
	Pending   *resultstore.PendingStore
	Baseline  *baseline.Oracle
	Hints     *hints.File
	Resolver  *triggers.Resolver
	Engine    *verdict.Engine
	Requester map[string]*broker.Requester // keyed by architecture

	sinks []closeableSink
}

// NewFacade loads persisted state, ingests results (file back-end only;
// the object-store back-end is pulled lazily per (src, arch) by the Test
// Requester), ages out stale entries, and wires every policy module
// against source/target/deps — the package universe, suite model and
// dependency graph are external collaborators supplied by the migration
// driver.
func NewFacade(cfg Config, source, target universe.Suite, deps universe.PackageUniverse, logger *slog.Logger) (*Facade, error) {
	resultsPath := cfg.ResultStorePath
	readOnly := cfg.SharedResultsCache != ""

	if readOnly {
		resultsPath = cfg.SharedResultsCache
	}

	store := resultstore.New(readOnly)
	if err := store.Load(resultsPath, logger); err != nil {
		return nil, fmt.Errorf("load result store: %w", err)
	}

	pending := resultstore.NewPendingStore()
	if err := pending.Load(cfg.PendingStorePath); err != nil {
		return nil, fmt.Errorf("load pending store: %w", err)
	}

	h, err := hints.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load hints: %w", err)
	}

	oracle := baseline.New(store, cfg.baselineMode())
	isReference := cfg.isReferenceMode()

	var objectStore broker.ObjectStoreFetcher

	if strings.HasPrefix(cfg.SwiftURL, "file://") {
		fb := &ingest.FileBackend{Path: strings.TrimPrefix(cfg.SwiftURL, "file://")}
		if err := fb.Ingest(store, pending, cfg.Series, isReference, logger); err != nil {
			return nil, fmt.Errorf("ingest results drop: %w", err)
		}
	} else {
		objectStore = ingest.NewObjectStoreBackend(cfg.SwiftURL, objectStoreContainer(cfg), cfg.Series, readOnly, cfg.RequestsPerSecond)
	}

	now := time.Now().Unix()
	referenceMaxAgeSeconds := int64(cfg.ReferenceMaxAge) * 86400

	store.AgeOut(now, referenceMaxAgeSeconds, func(src, version string) bool {
		return isKnownVersion(source, src, version) || isKnownVersion(target, src, version)
	})

	resolver := triggers.NewResolver(source, target, deps)

	requesters, sinks, err := buildRequesters(cfg, store, pending, oracle, objectStore, logger)
	if err != nil {
		return nil, err
	}

	engine := &verdict.Engine{
		Store:    store,
		Pending:  pending,
		Baseline: oracle,
		Target:   target,
		Hints:    h,
		Config: verdict.Config{
			IgnoreFailureForNewTests: cfg.IgnoreFailureForNewTests,
			SuccessBounty:            cfg.SuccessBounty,
			RegressionPenalty:        cfg.RegressionPenalty,
		},
		URLs: verdict.URLs{CIURL: cfg.CIURL, RetryURLMech: cfg.RetryURLMech},
	}

	return &Facade{
		cfg:       cfg,
		logger:    logger,
		Store:     store,
		Pending:   pending,
		Baseline:  oracle,
		Hints:     h,
		Resolver:  resolver,
		Engine:    engine,
		Requester: requesters,
		sinks:     sinks,
	}, nil
}

// objectStoreContainer shards the listing container by PPA the way the
// original's swift container naming does, so a PPA run never lists
// (or collides with) the primary archive's results.
func objectStoreContainer(cfg Config) string {
	if len(cfg.PPAs) == 0 {
		return cfg.Series
	}

	return cfg.Series + "-" + strings.Join(cfg.PPAs, "-")
}

// buildRequesters constructs one Requester per configured architecture.
// A Kafka sink is arch-specific (the topic name embeds the architecture),
// so each arch gets its own KafkaSink instance sharing the same
// underlying Store/Pending/Baseline/ObjectStore; a file sink has no
// per-arch state and is shared across every Requester.
func buildRequesters(
	cfg Config,
	store *resultstore.Store,
	pending *resultstore.PendingStore,
	oracle *baseline.Oracle,
	objectStore broker.ObjectStoreFetcher,
	logger *slog.Logger,
) (map[string]*broker.Requester, []closeableSink, error) {
	requesters := make(map[string]*broker.Requester, len(cfg.Arches))

	var sinks []closeableSink

	// Pending Store persistence after every publish applies only in AMQP
	// (here: Kafka) sink mode.
	persistPath := ""
	if !strings.HasPrefix(cfg.AMQP, "file://") {
		persistPath = cfg.PendingStorePath
	}

	var fileSink *broker.FileSink
	if strings.HasPrefix(cfg.AMQP, "file://") {
		fileSink = &broker.FileSink{Path: strings.TrimPrefix(cfg.AMQP, "file://")}
	} else if !strings.HasPrefix(cfg.AMQP, "amqp://") {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBrokerScheme, cfg.AMQP)
	}

	for _, arch := range cfg.Arches {
		var sink broker.Sink

		if fileSink != nil {
			sink = fileSink
		} else {
			addrs := strings.Split(strings.TrimPrefix(cfg.AMQP, "amqp://"), ",")
			kafkaSink := broker.NewKafkaSink(addrs, cfg.Series, arch, logger)
			sink = kafkaSink
			sinks = append(sinks, kafkaSink)
		}

		requesters[arch] = &broker.Requester{
			Store:              store,
			Pending:            pending,
			Baseline:           oracle,
			ObjectStore:        objectStore,
			Sink:               sink,
			Series:             cfg.Series,
			PPAs:               cfg.PPAs,
			RetryOlderThanDays: cfg.RetryOlderThan,
			DryRun:             cfg.DryRun,
			Logger:             logger,
			PersistPath:        persistPath,
		}
	}

	return requesters, sinks, nil
}

// isKnownVersion reports whether suite's SourceInfo for src is at exactly
// version, the Result Store age-out predicate's way of telling "still in
// an archive suite" from "migrated away, aged out".
func isKnownVersion(suite universe.Suite, src, version string) bool {
	info, ok := suite.Sources()[src]
	return ok && info.Version == version
}

// Evaluate resolves the test set for candidate across every configured
// architecture, dispatches any test requests still needed through the
// per-arch Test Requester, then hands the union of resolved tests to the
// Verdict Engine — the Trigger Resolver -> Test Requester -> Verdict
// Engine pipeline for one candidate.
func (f *Facade) Evaluate(ctx context.Context, candidate triggers.Candidate, excuse universe.Excuse) (verdict.Verdict, error) {
	union := make(map[archive.Trigger]bool)

	for _, arch := range f.cfg.Arches {
		tests := f.Resolver.Tests(candidate, arch, excuse)
		if len(tests) == 0 {
			continue
		}

		triggersList := f.Resolver.TriggersList(candidate, arch, excuse)
		huge := f.cfg.Huge > 0 && len(tests) > f.cfg.Huge

		requester, ok := f.Requester[arch]
		if !ok {
			return "", fmt.Errorf("policy: no requester configured for architecture %q", arch)
		}

		for _, test := range tests {
			union[test] = true

			if err := requester.Request(ctx, triggersList, test.Source, arch, huge); err != nil {
				return "", fmt.Errorf("request %s on %s: %w", test.Source, arch, err)
			}
		}
	}

	tests := make([]archive.Trigger, 0, len(union))
	for t := range union {
		tests = append(tests, t)
	}

	return f.Engine.Evaluate(candidate, tests, f.cfg.Arches, excuse)
}

// Shutdown persists the Result Store (skipped when it is the read-only
// shared cache) and the Pending Store, then releases every Kafka sink.
// Call this once when the migration driver's run completes.
func (f *Facade) Shutdown() error {
	var errs []error

	if err := f.Store.Save(f.cfg.resultsSavePath()); err != nil && !errors.Is(err, resultstore.ErrReadOnly) {
		errs = append(errs, fmt.Errorf("save result store: %w", err))
	}

	if err := f.Pending.Save(f.cfg.PendingStorePath); err != nil {
		errs = append(errs, fmt.Errorf("save pending store: %w", err))
	}

	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}

	return errors.Join(errs...)
}

// resultsSavePath is where the Result Store is written back to at
// shutdown: the shared-cache path when read-only mode leaves Save a no-op
// anyway, or the process-local results path otherwise.
func (c Config) resultsSavePath() string {
	if c.SharedResultsCache != "" {
		return c.SharedResultsCache
	}

	return c.ResultStorePath
}
