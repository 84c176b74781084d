package jobs

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
)

// NormalizeName turns a file or output name into a path-safe token: trailing source
// extensions are stripped (case-insensitive), the result is lowercased and whitespace
// runs become a single filler. NormalizeName(NormalizeName(s)) == NormalizeName(s).
func NormalizeName(name string) string {
	n := strings.TrimSpace(name)
	for strings.HasSuffix(strings.ToLower(n), domain.SourceExtension) {
		n = strings.TrimSpace(n[:len(n)-len(domain.SourceExtension)])
	}
	return strings.Join(strings.Fields(strings.ToLower(n)), domain.PathFiller)
}

// SourceToken returns the normalized base name of a source file reference
func SourceToken(sourceFile string) string {
	return NormalizeName(path.Base(strings.ReplaceAll(sourceFile, "\\", "/")))
}

// OutputPrefix returns the job output prefix:
// render-output/<source token>/<creation time>/<job id prefix>/
func OutputPrefix(sourceFile, jobID string, created time.Time) string {
	idPrefix := jobID[:min(len(jobID), domain.JobIDPrefixLen)]
	return fmt.Sprintf("%s/%s/%s/%s/",
		domain.OutputNamespace,
		SourceToken(sourceFile),
		created.UTC().Format(domain.PathTimeLayout),
		idPrefix,
	)
}

// DestinationKey returns the object key of one frame under a job output path
func DestinationKey(outputPath string, frameNumber int) string {
	return fmt.Sprintf("%s_%0*d", outputPath, domain.FrameDigits, frameNumber)
}
