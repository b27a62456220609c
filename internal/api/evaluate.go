package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/distrogate/autopkgtest-gate/internal/api/middleware"
	"github.com/distrogate/autopkgtest-gate/internal/triggers"
	"github.com/distrogate/autopkgtest-gate/internal/universe"
)

// EvaluateRequest carries one candidate and the excuse state the migration
// driver has computed for it so far (missing builds, unsatisfiable
// architectures, the package set per architecture) — everything the
// Trigger Resolver and Verdict Engine need besides the process-wide
// suite/dependency graph the Facade was built with.
type EvaluateRequest struct {
	Source                    string               `json:"source"`
	Version                   string                `json:"version"`
	Binaries                  []EvaluateBinary      `json:"binaries"`
	MissingBuilds              []string             `json:"missing_builds,omitempty"`              //nolint:tagliatelle
	UnsatisfiableOnArchs       []string             `json:"unsatisfiable_on_archs,omitempty"`       //nolint:tagliatelle
	PackagesByArch             map[string][]string  `json:"packages_by_arch,omitempty"`             //nolint:tagliatelle
	DependsPackagesFlattened  []EvaluateBinary      `json:"depends_packages_flattened,omitempty"`   //nolint:tagliatelle
	PolicyInfo                 map[string]interface{} `json:"policy_info,omitempty"`                //nolint:tagliatelle
}

// EvaluateBinary is the wire form of universe.BinaryID.
type EvaluateBinary struct {
	Name string `json:"name"`
	Arch string `json:"arch"`
}

// EvaluateResponse is the verdict plus every side effect the Verdict Engine
// recorded on the request-scoped excuse: reasons, info lines, bounty/penalty
// deltas, and the autopkgtest result labels britney's excuse page shows.
type EvaluateResponse struct {
	Verdict              string   `json:"verdict"`
	Reasons              []string `json:"reasons,omitempty"`
	Info                 []string `json:"info,omitempty"`
	VerdictInfo          []string `json:"verdict_info,omitempty"`           //nolint:tagliatelle
	Bounty               int      `json:"bounty,omitempty"`
	Penalty              int      `json:"penalty,omitempty"`
	AutopkgtestResults   []string `json:"autopkgtest_results,omitempty"`    //nolint:tagliatelle
}

// requestExcuse implements universe.Excuse over one EvaluateRequest,
// accumulating every AddXxx/SetXxx call so handleEvaluate can report it
// back — there is no long-lived excuse object to mutate in the HTTP
// facade, unlike a britney run holding excuses in memory across policies.
type requestExcuse struct {
	missingBuilds        []string
	unsatisfiableOnArchs []string
	packagesByArch       map[string][]string
	dependsFlattened     []universe.BinaryID
	policyInfo           map[string]interface{}

	reasons            []string
	info               []string
	verdictInfo        []string
	bounty             int
	penalty            int
	autopkgtestResults []string
}

func newRequestExcuse(req EvaluateRequest) *requestExcuse {
	depends := make([]universe.BinaryID, 0, len(req.DependsPackagesFlattened))
	for _, b := range req.DependsPackagesFlattened {
		depends = append(depends, universe.BinaryID{Name: b.Name, Arch: b.Arch})
	}

	policyInfo := req.PolicyInfo
	if policyInfo == nil {
		policyInfo = make(map[string]interface{})
	}

	return &requestExcuse{
		missingBuilds:        req.MissingBuilds,
		unsatisfiableOnArchs: req.UnsatisfiableOnArchs,
		packagesByArch:       req.PackagesByArch,
		dependsFlattened:     depends,
		policyInfo:           policyInfo,
	}
}

func (e *requestExcuse) MissingBuilds() []string        { return e.missingBuilds }
func (e *requestExcuse) UnsatisfiableOnArchs() []string  { return e.unsatisfiableOnArchs }
func (e *requestExcuse) PolicyInfo() map[string]interface{} { return e.policyInfo }
func (e *requestExcuse) Packages(arch string) []string   { return e.packagesByArch[arch] }
func (e *requestExcuse) DependsPackagesFlattened() []universe.BinaryID { return e.dependsFlattened }

func (e *requestExcuse) AddVerdictInfo(line string)       { e.verdictInfo = append(e.verdictInfo, line) }
func (e *requestExcuse) AddInfo(line string)              { e.info = append(e.info, line) }
func (e *requestExcuse) AddReason(reason string)          { e.reasons = append(e.reasons, reason) }
func (e *requestExcuse) AddBounty(amount int)             { e.bounty += amount }
func (e *requestExcuse) AddPenalty(amount int)            { e.penalty += amount }
func (e *requestExcuse) SetAutopkgtestResults(labels []string) { e.autopkgtestResults = labels }

// handleEvaluate runs one candidate through the Policy Facade: Trigger
// Resolver -> Test Requester -> Baseline Oracle -> Verdict Engine.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON body: "+err.Error()))
		return
	}

	if req.Source == "" || req.Version == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("source and version are required"))
		return
	}

	binaries := make([]universe.BinaryID, 0, len(req.Binaries))
	for _, b := range req.Binaries {
		binaries = append(binaries, universe.BinaryID{Name: b.Name, Arch: b.Arch})
	}

	candidate := triggers.Candidate{Source: req.Source, Version: req.Version, Binaries: binaries}
	excuse := newRequestExcuse(req)

	verdict, err := s.facade.Evaluate(r.Context(), candidate, excuse)
	if err != nil {
		s.logger.Error("evaluate failed",
			slog.String("correlation_id", correlationID), slog.String("source", req.Source), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("evaluate failed: "+err.Error()))

		return
	}

	resp := EvaluateResponse{
		Verdict:            string(verdict),
		Reasons:            excuse.reasons,
		Info:               excuse.info,
		VerdictInfo:        excuse.verdictInfo,
		Bounty:             excuse.bounty,
		Penalty:            excuse.penalty,
		AutopkgtestResults: excuse.autopkgtestResults,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		s.logger.Error("failed to encode evaluate response",
			slog.String("correlation_id", correlationID), slog.String("error", encodeErr.Error()))
	}
}
