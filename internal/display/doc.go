// Package display renders progress and warnings for multi-request runs.
//
// A batch run shows one line per request and ends with a summary:
//
//	progress := display.NewProgressIndicator(os.Stdout, len(batch.Requests), true)
//	progress.Start(batch.FilePath)
//	for _, req := range batch.Requests {
//	    progress.Step(req.Title)
//	    // ... submit the request ...
//	}
//	progress.Complete("3 complete, 1 awaiting approval")
//
// Requests that errored are reported once at the end:
//
//	display.Warning{
//	    Title:      "2 requests did not finish",
//	    Items:      []string{"request 2: classification failed"},
//	    Suggestion: "opgate list --status failed",
//	}.Display(os.Stderr, true)
//
// Color output is optional so that callers writing to a pipe or a test
// buffer get plain text.
package display
