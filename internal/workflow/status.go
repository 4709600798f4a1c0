package workflow

// Status is the lifecycle state of a grading batch.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusIntake          Status = "INTAKE"
	StatusPreprocess      Status = "PREPROCESS"
	StatusRubricParse     Status = "RUBRIC_PARSE"
	StatusGrading         Status = "GRADING"
	StatusCrossPageMerge  Status = "CROSS_PAGE_MERGE"
	StatusSegment         Status = "SEGMENT"
	StatusWaitingForHuman Status = "WAITING_FOR_HUMAN"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
)

// PausePoint names where a paused batch is waiting for a reviewer.
type PausePoint string

const (
	PauseNone    PausePoint = ""
	PauseRubric  PausePoint = "rubric"
	PauseResults PausePoint = "results"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusIntake, StatusCancelled},
	StatusIntake:          {StatusPreprocess, StatusFailed, StatusCancelled},
	StatusPreprocess:      {StatusRubricParse, StatusFailed, StatusCancelled},
	StatusRubricParse:     {StatusGrading, StatusWaitingForHuman, StatusFailed, StatusCancelled},
	StatusGrading:         {StatusCrossPageMerge, StatusFailed, StatusCancelled},
	StatusCrossPageMerge:  {StatusSegment, StatusFailed, StatusCancelled},
	StatusSegment:         {StatusWaitingForHuman, StatusFailed, StatusCancelled},
	StatusWaitingForHuman: {StatusGrading, StatusWaitingForHuman, StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:       {},
	StatusFailed:          {},
	StatusCancelled:       {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var stageOrder = map[Status]int{
	StatusPending:         0,
	StatusIntake:          1,
	StatusPreprocess:      2,
	StatusRubricParse:     3,
	StatusGrading:         4,
	StatusCrossPageMerge:  5,
	StatusSegment:         6,
	StatusWaitingForHuman: 7,
}

// canReplay reports whether a persisted status may be rewound during crash
// recovery. Replays move backward through the active pipeline stages only;
// terminal records are never rewound.
func canReplay(from, to Status) bool {
	f, fromActive := stageOrder[from]
	t, toActive := stageOrder[to]
	return fromActive && toActive && t <= f
}

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// progress maps a status to an approximate completion percentage for
// progress events.
func (s Status) progress() int {
	switch s {
	case StatusPending:
		return 0
	case StatusIntake:
		return 5
	case StatusPreprocess:
		return 15
	case StatusRubricParse:
		return 25
	case StatusGrading:
		return 70
	case StatusCrossPageMerge:
		return 80
	case StatusSegment:
		return 90
	case StatusWaitingForHuman:
		return 95
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 100
	default:
		return 0
	}
}
