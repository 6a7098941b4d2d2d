package process

import "github.com/procurehq/bidflow/pkg/bidflow/domain"

// Phase names of the built-in procurement process.
const (
	PhaseDiscovery  = "discovery"
	PhaseAnalysis   = "analysis"
	PhaseGeneration = "generation"
	PhaseSubmission = "submission"
	PhaseMonitoring = "monitoring"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
	PhaseCancelled  = "cancelled"
)

// Procurement returns the built-in RFP process: portal discovery, document
// analysis, proposal generation, portal submission and award monitoring.
// Deployments can override it with BIDFLOW_PROCESS_FILE.
func Procurement() *Definition {
	return &Definition{
		Name:         "rfp-procurement",
		InitialPhase: PhaseDiscovery,
		Phases: []PhaseDefinition{
			{
				Name:                 PhaseDiscovery,
				Label:                "RFP Discovery",
				AllowedTransitions:   []string{PhaseAnalysis, PhaseFailed, PhaseCancelled},
				EntryHooks:           []string{"seedPhaseItems"},
				TimeoutMinutes:       120,
				RequiredCapabilities: []string{"portal-scan"},
			},
			{
				Name:                 PhaseAnalysis,
				Label:                "Document Analysis",
				AllowedTransitions:   []string{PhaseGeneration, PhaseFailed, PhaseCancelled},
				EntryHooks:           []string{"seedPhaseItems"},
				TimeoutMinutes:       240,
				RequiredCapabilities: []string{"doc-parse"},
			},
			{
				Name:                 PhaseGeneration,
				Label:                "Proposal Generation",
				AllowedTransitions:   []string{PhaseSubmission, PhaseFailed, PhaseCancelled},
				EntryHooks:           []string{"seedPhaseItems"},
				TimeoutMinutes:       480,
				RequiredCapabilities: []string{"llm-generate"},
			},
			{
				Name:                 PhaseSubmission,
				Label:                "Portal Submission",
				AllowedTransitions:   []string{PhaseMonitoring, PhaseFailed, PhaseCancelled},
				EntryHooks:           []string{"seedPhaseItems"},
				TimeoutMinutes:       120,
				RequiredCapabilities: []string{"browser-submit"},
			},
			{
				Name:                 PhaseMonitoring,
				Label:                "Award Monitoring",
				AllowedTransitions:   []string{PhaseCompleted, PhaseFailed, PhaseCancelled},
				EntryHooks:           []string{"seedPhaseItems"},
				RequiredCapabilities: []string{"portal-monitor"},
			},
			{Name: PhaseCompleted, Label: "Completed"},
			{Name: PhaseFailed, Label: "Failed", AllowedTransitions: []string{PhaseCancelled}},
			{Name: PhaseCancelled, Label: "Cancelled"},
		},
		Transitions: []TransitionDefinition{
			{
				From: PhaseDiscovery, To: PhaseAnalysis, Automatic: true,
				Conditions: map[string]any{"rfpCount": map[string]any{"min": 1}},
			},
			{
				From: PhaseAnalysis, To: PhaseGeneration, Automatic: true,
				Conditions: map[string]any{"requirementsParsed": true},
			},
			{
				From: PhaseGeneration, To: PhaseSubmission, Automatic: true,
				Conditions: map[string]any{
					"proposalReady":   true,
					"complianceScore": map[string]any{"gte": 0.8},
				},
			},
			{
				From: PhaseSubmission, To: PhaseMonitoring, Automatic: true,
				Conditions: map[string]any{"submissionConfirmed": true},
			},
			{
				From: PhaseMonitoring, To: PhaseCompleted, Automatic: true,
				Conditions: map[string]any{
					"or": []any{
						map[string]any{"awardDecision": "won"},
						map[string]any{"awardDecision": "lost"},
					},
				},
			},
			{From: PhaseDiscovery, To: PhaseFailed},
			{From: PhaseAnalysis, To: PhaseFailed},
			{From: PhaseGeneration, To: PhaseFailed},
			{From: PhaseSubmission, To: PhaseFailed},
			{From: PhaseMonitoring, To: PhaseFailed},
			{From: PhaseDiscovery, To: PhaseCancelled},
			{From: PhaseAnalysis, To: PhaseCancelled},
			{From: PhaseGeneration, To: PhaseCancelled},
			{From: PhaseSubmission, To: PhaseCancelled},
			{From: PhaseMonitoring, To: PhaseCancelled},
			{From: PhaseFailed, To: PhaseCancelled},
		},
		Sequences: map[string][]domain.WorkItemSpec{
			PhaseDiscovery: {
				{SequenceID: "scan_portals", TaskType: "portal_scan", Priority: 10, Blocking: true, DeadlineMinutes: 60},
				{SequenceID: "dedupe_rfps", TaskType: "rfp_dedupe", DependsOn: []string{"scan_portals"}, Priority: 5},
			},
			PhaseAnalysis: {
				{SequenceID: "validate_document", TaskType: "document_validate", Priority: 10, Blocking: true},
				{SequenceID: "extract_text", TaskType: "text_extract", DependsOn: []string{"validate_document"}, Priority: 8, Blocking: true},
				{SequenceID: "parse_requirements", TaskType: "requirements_parse", DependsOn: []string{"extract_text"}, Priority: 8, Blocking: true},
				{SequenceID: "score_compliance", TaskType: "compliance_score", DependsOn: []string{"parse_requirements"}, Priority: 5},
			},
			PhaseGeneration: {
				{SequenceID: "draft_technical", TaskType: "proposal_section", Priority: 8, Inputs: map[string]any{"section": "technical"}},
				{SequenceID: "draft_pricing", TaskType: "proposal_section", Priority: 8, Inputs: map[string]any{"section": "pricing"}},
				{SequenceID: "assemble_proposal", TaskType: "proposal_assemble", DependsOn: []string{"draft_technical", "draft_pricing"}, Priority: 10, Blocking: true},
				{SequenceID: "compliance_check", TaskType: "compliance_check", DependsOn: []string{"assemble_proposal"}, Priority: 10, Blocking: true},
			},
			PhaseSubmission: {
				{SequenceID: "portal_login", TaskType: "portal_login", Priority: 10, Blocking: true, DeadlineMinutes: 30},
				{SequenceID: "upload_proposal", TaskType: "proposal_upload", DependsOn: []string{"portal_login"}, Priority: 10, Blocking: true, DeadlineMinutes: 60},
				{SequenceID: "confirm_receipt", TaskType: "submission_confirm", DependsOn: []string{"upload_proposal"}, Priority: 10, Blocking: true},
			},
			PhaseMonitoring: {
				{SequenceID: "watch_award", TaskType: "award_watch", Priority: 3},
			},
		},
	}
}
