// Package detectors holds the built-in detector set. Phase 1 rules
// read the query cache independently; phase 2 rules correlate phase 1
// output.
package detectors

import (
	"sort"

	"github.com/reposage/reposage/internal/detect"
	"github.com/reposage/reposage/internal/querycache"
)

type funcInfo = querycache.FunctionInfo
type classInfo = querycache.ClassInfo

// Default returns the full built-in detector set.
func Default() []detect.Detector {
	return []detect.Detector{
		Complexity{},
		GodClass{},
		LongParameterList{},
		DeadSymbol{},
		CircularImport{},
		MissingTests{},
		Hotspot{},
		RiskCorrelation{},
	}
}

func sortedClasses(in *detect.Input) []*classInfo {
	out := make([]*classInfo, 0, len(in.Cache.Classes))
	for _, cl := range in.Cache.Classes {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

func sortedFiles(in *detect.Input) []*querycache.FileInfo {
	out := make([]*querycache.FileInfo, 0, len(in.Cache.Files))
	for _, f := range in.Cache.Files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
