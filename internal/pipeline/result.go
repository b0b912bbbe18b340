package pipeline

// Stage names the states a run directory passes through.
type Stage string

const (
	StageInit        Stage = "init"
	StagePruned      Stage = "pruned"
	StageScanned     Stage = "scanned"
	StagePartitioned Stage = "partitioned"
	StageDeleted     Stage = "deleted"
	StageExtracted   Stage = "extracted"
	StageSwept       Stage = "swept"
	StageDone        Stage = "done"
)

// ItemFailure is one file or directory operation that failed. The pipeline
// carries on past it.
type ItemFailure struct {
	Stage Stage  `json:"stage"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result summarizes one pipeline invocation.
type Result struct {
	RunDir         string        `json:"run_dir"`
	Stage          Stage         `json:"stage"`
	Pruned         int           `json:"pruned"`
	Scanned        int           `json:"scanned"`
	Cutoff         int           `json:"cutoff"`
	Deleted        int           `json:"deleted"`
	Kept           int           `json:"kept"`
	Extracted      int           `json:"extracted"`
	Swept          int           `json:"swept"`
	BytesReclaimed int64         `json:"bytes_reclaimed"`
	Failures       []ItemFailure `json:"failures,omitempty"`
	Retained       []string      `json:"retained,omitempty"`
	Lost           []string      `json:"lost,omitempty"`
	Listing        []string      `json:"listing"`
}

func (r *Result) fail(stage Stage, path string, err error) {
	r.Failures = append(r.Failures, ItemFailure{Stage: stage, Path: path, Error: err.Error()})
}

func (r *Result) advance(stage Stage) {
	r.Stage = stage
}
