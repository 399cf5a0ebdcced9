// Package conflict implements three-way merge and conflict-marker
// materialization, grounded on the original client's ConflictResolver
// (client/src/conflict.rs): dispatch by detected file type, three-way
// merge for text, recursive key merge for JSON/YAML, binary files always
// unresolved.
package conflict

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind classifies why a conflict arose.
type Kind int

const (
	KindModifyModify Kind = iota
	KindModifyDelete
	KindBinary
)

// FileClass groups file types by merge strategy.
type FileClass int

const (
	ClassText FileClass = iota
	ClassJSON
	ClassYAML
	ClassOther
)

// ClassifyFileType maps a detected file type (as internal/rules.Engine
// produces) to the merge strategy conflict resolution uses.
func ClassifyFileType(fileType string) FileClass {
	switch fileType {
	case "txt", "md", "rst", "text":
		return ClassText
	case "json":
		return ClassJSON
	case "yaml", "yml":
		return ClassYAML
	default:
		return ClassOther
	}
}

// Strategy is an explicit fallback used when automatic merge is disabled
// or the file type has no structured merge strategy.
type Strategy int

const (
	StrategyKeepLocal Strategy = iota
	StrategyKeepRemote
	StrategyKeepNewer
	StrategyManual
)

// Outcome is the tagged result of a Resolve call, mirroring the original's
// MergeResult enum {Merged, NoConflict, Conflict, Error}.
type Outcome int

const (
	OutcomeMerged Outcome = iota
	OutcomeNoConflict
	OutcomeConflict
)

// Result carries a Resolve call's outcome and, for OutcomeMerged /
// OutcomeConflict, the resulting bytes (merged content, or conflict
// markers).
type Result struct {
	Outcome Outcome
	Content []byte
}

// Resolver performs content-level conflict resolution. AutoMergeText and
// AutoMergeStructured gate whether text/JSON/YAML attempt a three-way
// merge at all, or fall straight to conflict markers — matching the
// original's auto_merge_text / auto_merge_structured flags.
type Resolver struct {
	DefaultStrategy     Strategy
	AutoMergeText       bool
	AutoMergeStructured bool
}

// NewResolver constructs a Resolver with auto-merge enabled for both text
// and structured types, matching spec.md §4.8's default dispatch table.
func NewResolver(defaultStrategy Strategy) *Resolver {
	return &Resolver{
		DefaultStrategy:     defaultStrategy,
		AutoMergeText:       true,
		AutoMergeStructured: true,
	}
}

// Resolve dispatches by fileType and conflict kind to produce a merge
// outcome. base is nil when no common ancestor content is available.
func (r *Resolver) Resolve(fileType string, local, remote, base []byte, kind Kind) (Result, error) {
	switch kind {
	case KindBinary:
		return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}, nil

	case KindModifyDelete:
		return r.resolveModifyDelete(local, remote), nil

	default:
		return r.resolveModifyModify(fileType, local, remote, base)
	}
}

func (r *Resolver) resolveModifyModify(fileType string, local, remote, base []byte) (Result, error) {
	switch ClassifyFileType(fileType) {
	case ClassText:
		if !r.AutoMergeText {
			return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}, nil
		}

		return r.mergeText(local, remote, base), nil

	case ClassJSON:
		if !r.AutoMergeStructured {
			return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}, nil
		}

		return r.mergeJSON(local, remote, base)

	case ClassYAML:
		if !r.AutoMergeStructured {
			return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}, nil
		}

		return r.mergeYAML(local, remote, base)

	default:
		return r.applyDefaultStrategy(local, remote), nil
	}
}

func (r *Resolver) resolveModifyDelete(local, remote []byte) Result {
	switch r.DefaultStrategy {
	case StrategyKeepLocal:
		return Result{Outcome: OutcomeMerged, Content: local}
	case StrategyKeepRemote:
		if len(remote) == 0 {
			return Result{Outcome: OutcomeMerged, Content: local}
		}

		return Result{Outcome: OutcomeMerged, Content: remote}
	default:
		return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}
	}
}

// ApplyDefaultStrategy implements the original's apply_default_strategy:
// the no-base fallback used directly by callers (e.g. the sync engine's
// Error-case escalation) and internally for file types with no structured
// merge strategy.
func (r *Resolver) ApplyDefaultStrategy(local, remote []byte) Result {
	return r.applyDefaultStrategy(local, remote)
}

func (r *Resolver) applyDefaultStrategy(local, remote []byte) Result {
	switch r.DefaultStrategy {
	case StrategyKeepLocal:
		return Result{Outcome: OutcomeMerged, Content: local}
	case StrategyKeepRemote:
		return Result{Outcome: OutcomeMerged, Content: remote}
	default:
		return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}
	}
}

// mergeText performs the three-way text merge of spec.md §4.8: with a
// base, a path that only one side touched wins outright; both touching it
// identically is a no-conflict; both touching it differently is a
// conflict. Without a base, any divergence is a conflict.
func (r *Resolver) mergeText(local, remote, base []byte) Result {
	if base == nil {
		return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}
	}

	localDiffers := !bytesEqual(base, local)
	remoteDiffers := !bytesEqual(base, remote)
	sidesDiffer := !bytesEqual(local, remote)

	switch {
	case !sidesDiffer:
		return Result{Outcome: OutcomeNoConflict, Content: local}
	case localDiffers && remoteDiffers:
		return Result{Outcome: OutcomeConflict, Content: r.marker(local, remote)}
	case localDiffers:
		return Result{Outcome: OutcomeMerged, Content: local}
	case remoteDiffers:
		return Result{Outcome: OutcomeMerged, Content: remote}
	default:
		return Result{Outcome: OutcomeNoConflict, Content: local}
	}
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}

// marker produces git-style conflict markers, matching the original's
// create_conflict_marker exactly (LOCAL/=======/REMOTE).
func (r *Resolver) marker(local, remote []byte) []byte {
	return []byte(fmt.Sprintf("<<<<<<< LOCAL\n%s\n=======\n%s\n>>>>>>> REMOTE", local, remote))
}

func (r *Resolver) mergeJSON(local, remote, base []byte) (Result, error) {
	var localVal, remoteVal any

	if err := json.Unmarshal(local, &localVal); err != nil {
		return Result{}, fmt.Errorf("conflict: parsing local JSON: %w", err)
	}

	if err := json.Unmarshal(remote, &remoteVal); err != nil {
		return Result{}, fmt.Errorf("conflict: parsing remote JSON: %w", err)
	}

	var merged any

	if base != nil {
		var baseVal any
		if err := json.Unmarshal(base, &baseVal); err != nil {
			return Result{}, fmt.Errorf("conflict: parsing base JSON: %w", err)
		}

		merged = mergeValuesWithBase(baseVal, localVal, remoteVal)
	} else {
		merged = mergeValuesWithoutBase(localVal, remoteVal)
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("conflict: serializing merged JSON: %w", err)
	}

	return Result{Outcome: OutcomeMerged, Content: out}, nil
}

func (r *Resolver) mergeYAML(local, remote, base []byte) (Result, error) {
	var localVal, remoteVal any

	if err := yaml.Unmarshal(local, &localVal); err != nil {
		return Result{}, fmt.Errorf("conflict: parsing local YAML: %w", err)
	}

	if err := yaml.Unmarshal(remote, &remoteVal); err != nil {
		return Result{}, fmt.Errorf("conflict: parsing remote YAML: %w", err)
	}

	var merged any

	if base != nil {
		var baseVal any
		if err := yaml.Unmarshal(base, &baseVal); err != nil {
			return Result{}, fmt.Errorf("conflict: parsing base YAML: %w", err)
		}

		merged = mergeValuesWithBase(normalizeYAML(baseVal), normalizeYAML(localVal), normalizeYAML(remoteVal))
	} else {
		merged = mergeValuesWithoutBase(normalizeYAML(localVal), normalizeYAML(remoteVal))
	}

	out, err := yaml.Marshal(merged)
	if err != nil {
		return Result{}, fmt.Errorf("conflict: serializing merged YAML: %w", err)
	}

	return Result{Outcome: OutcomeMerged, Content: out}, nil
}

// normalizeYAML recursively converts map[string]interface{} keys that
// yaml.v3 may decode as map[interface{}]interface{} for non-string keys
// into map[string]any, so merge logic can treat JSON and YAML documents
// identically.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAML(vv)
		}

		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(vv)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAML(vv)
		}

		return out
	default:
		return v
	}
}

// mergeValuesWithBase implements the original's merge_json_values: object
// keys recurse per-key against the three-way rule; arrays prefer remote
// (a documented known limitation, not a general solution); any other
// combination prefers local.
func mergeValuesWithBase(base, local, remote any) any {
	baseMap, baseIsMap := base.(map[string]any)
	localMap, localIsMap := local.(map[string]any)
	remoteMap, remoteIsMap := remote.(map[string]any)

	if baseIsMap && localIsMap && remoteIsMap {
		return mergeObjectsWithBase(baseMap, localMap, remoteMap)
	}

	if _, ok := local.([]any); ok {
		if remoteArr, ok := remote.([]any); ok {
			return remoteArr
		}
	}

	return local
}

func mergeObjectsWithBase(base, local, remote map[string]any) map[string]any {
	keys := map[string]struct{}{}
	for k := range base {
		keys[k] = struct{}{}
	}

	for k := range local {
		keys[k] = struct{}{}
	}

	for k := range remote {
		keys[k] = struct{}{}
	}

	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}

	sort.Strings(sortedKeys)

	merged := make(map[string]any, len(sortedKeys))

	for _, k := range sortedKeys {
		b, bOK := base[k]
		l, lOK := local[k]
		rv, rOK := remote[k]

		switch {
		case lOK && rOK && deepEqual(l, rv):
			merged[k] = l
		case bOK && lOK && rOK:
			merged[k] = mergeValuesWithBase(b, l, rv)
		case !bOK && lOK && rOK:
			merged[k] = l
		case lOK && !rOK:
			merged[k] = l
		case !lOK && rOK:
			merged[k] = rv
		}
	}

	return merged
}

// mergeValuesWithoutBase implements the original's
// merge_json_values_without_base: left-biased deep merge of objects,
// local wins any scalar conflict.
func mergeValuesWithoutBase(local, remote any) any {
	localMap, localIsMap := local.(map[string]any)
	remoteMap, remoteIsMap := remote.(map[string]any)

	if !localIsMap || !remoteIsMap {
		return local
	}

	merged := make(map[string]any, len(localMap))
	for k, v := range localMap {
		merged[k] = v
	}

	for k, remoteVal := range remoteMap {
		if localVal, ok := localMap[k]; ok {
			merged[k] = mergeValuesWithoutBase(localVal, remoteVal)
		} else {
			merged[k] = remoteVal
		}
	}

	return merged
}

func deepEqual(a, b any) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)

	if err1 != nil || err2 != nil {
		return false
	}

	return string(aj) == string(bj)
}
