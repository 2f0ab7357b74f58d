package types

// AlertStage identifies the lifecycle stage of a candidate alert. Later
// stages for the same event ID supersede earlier ones.
type AlertStage string

const (
	StagePreliminary AlertStage = "preliminary"
	StageInitial     AlertStage = "initial"
	StageUpdate      AlertStage = "update"
	StageRetraction  AlertStage = "retraction"
)

// DecisionKind is the tag of a DecisionOutcome.
type DecisionKind string

const (
	// DecisionSkip means the event failed an admission gate; the reason
	// records which gate.
	DecisionSkip DecisionKind = "skip"
	// DecisionTriggered means a plan was committed to the live execution queue.
	DecisionTriggered DecisionKind = "triggered"
	// DecisionSerendipitous means recent survey coverage already satisfied
	// the plan's probability, so no live trigger was sent but the event is
	// still tracked on cadence.
	DecisionSerendipitous DecisionKind = "serendipitous"
	// DecisionRetracted means a previously queued plan was withdrawn and the
	// record invalidated.
	DecisionRetracted DecisionKind = "retracted"
)

// SubmissionAction distinguishes a first photometry request for an event
// from a scheduled refresh of already-retrieved coordinates.
type SubmissionAction string

const (
	ActionNew    SubmissionAction = "new"
	ActionUpdate SubmissionAction = "update"
)

// PartialCoverageOutcome selects how the pending-observation recheck treats
// a coverage fraction above zero but below the success threshold. The
// historical pipeline was inconsistent here, so the behavior is an explicit
// deployment choice.
type PartialCoverageOutcome string

const (
	// PartialRetry re-queues the plan for a same-night retry.
	PartialRetry PartialCoverageOutcome = "retry"
	// PartialManual records the plan as unsuccessful and flags it for manual
	// inspection. This is the default.
	PartialManual PartialCoverageOutcome = "manual"
	// PartialDiscard records the plan as unsuccessful with no flag.
	PartialDiscard PartialCoverageOutcome = "discard"
)

// RetriggerReason labels why the cadence pass is requesting a new plan.
type RetriggerReason string

const (
	// RetriggerFollowup is a scheduled cadence-date follow-up.
	RetriggerFollowup RetriggerReason = "followup"
	// RetriggerRetry is a same-night retry after an unobserved pending plan.
	RetriggerRetry RetriggerReason = "retry"
)
