package workspace

import (
	"fmt"
	"regexp"
	"strconv"
)

// Snapshot-level files.
const (
	FileSnapshot       = "snapshot-data.json"
	FileValidation     = "snapshot-validation.json"
	FileOriginal       = "original-data.json"
	FileMetadata       = "metadata.txt"
	FileUploadResult   = "upload-result.json"
	FileLastSearch     = "last_search_results.json"
	FileAuditReport    = "audit-report.md"
	FileAuditStats     = "audit-report-stats.json"
	FileTrace          = "trace.jsonl"
	FileReferenceUsage = "reference-data-usage.json"
)

// Files written inside iteration-{n}/.
const (
	FileIdentifyResponse  = "llm_identify_response.json"
	FileIdentifyCall      = "llm_identify_call.json"
	FileContext           = "context.json"
	FileProposal          = "llm_correction_proposal.json"
	FileProposalCall      = "llm_correction_call.json"
	FileSchemaValidation  = "schema-validation.json"
	FileCorrectionApplied = "correction-applied.json"
)

// RetryFile names the k-th schema retry record; k=0 is the first rejected proposal.
func RetryFile(k int) string {
	return fmt.Sprintf("llm_correction_proposal_retry_%d.json", k)
}

func IterationDir(n int) string {
	return "iteration-" + strconv.Itoa(n)
}

// IterationPath joins an iteration directory and a file name.
func IterationPath(n int, name string) string {
	return IterationDir(n) + "/" + name
}

var iterationDirPattern = regexp.MustCompile(`^iteration-(\d+)/`)

// parseIteration returns the iteration number encoded in a listed path, or 0.
func parseIteration(path string) int {
	m := iterationDirPattern.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
