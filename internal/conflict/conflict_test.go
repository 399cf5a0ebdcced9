package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ConflictMarker_TextNoBase(t *testing.T) {
	r := NewResolver(StrategyManual)

	res, err := r.Resolve("md", []byte("L"), []byte("R"), nil, KindModifyModify)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Equal(t, "<<<<<<< LOCAL\nL\n=======\nR\n>>>>>>> REMOTE", string(res.Content))
}

func TestResolve_Text_LocalEqualRemote_NoConflict(t *testing.T) {
	r := NewResolver(StrategyManual)

	res, err := r.Resolve("md", []byte("same"), []byte("same"), []byte("same"), KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoConflict, res.Outcome)
}

func TestResolve_Text_LocalEqualRemote_BothDivergedFromBase_NoConflict(t *testing.T) {
	r := NewResolver(StrategyManual)

	res, err := r.Resolve("md", []byte("same-change"), []byte("same-change"), []byte("orig"), KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoConflict, res.Outcome)
	assert.Equal(t, "same-change", string(res.Content))
}

func TestResolve_Text_OnlyLocalChanged(t *testing.T) {
	r := NewResolver(StrategyManual)

	res, err := r.Resolve("md", []byte("local-change"), []byte("base"), []byte("base"), KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, "local-change", string(res.Content))
}

func TestResolve_Text_OnlyRemoteChanged(t *testing.T) {
	r := NewResolver(StrategyManual)

	res, err := r.Resolve("md", []byte("base"), []byte("remote-change"), []byte("base"), KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, "remote-change", string(res.Content))
}

func TestResolve_Text_BothChangedDifferently_Conflict(t *testing.T) {
	r := NewResolver(StrategyManual)

	res, err := r.Resolve("md", []byte("local"), []byte("remote"), []byte("base"), KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
}

func TestResolve_Binary_AlwaysConflict(t *testing.T) {
	r := NewResolver(StrategyKeepLocal)

	res, err := r.Resolve("png", []byte{0x89, 0x50}, []byte{0x01}, nil, KindBinary)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
}

func TestResolve_JSON_MergeWithBase(t *testing.T) {
	r := NewResolver(StrategyManual)

	local := []byte(`{"name":"test","value":1}`)
	remote := []byte(`{"name":"test","value":2}`)
	base := []byte(`{"name":"test","value":0}`)

	res, err := r.Resolve("json", local, remote, base, KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Contains(t, string(res.Content), `"name": "test"`)
}

func TestResolve_JSON_MergeWithoutBase_UnionOfKeys(t *testing.T) {
	r := NewResolver(StrategyManual)

	local := []byte(`{"name":"test","local_key":"local"}`)
	remote := []byte(`{"name":"test","remote_key":"remote"}`)

	res, err := r.Resolve("json", local, remote, nil, KindModifyModify)
	require.NoError(t, err)
	assert.Contains(t, string(res.Content), "local_key")
	assert.Contains(t, string(res.Content), "remote_key")
}

func TestResolve_JSON_ArraysPreferRemote(t *testing.T) {
	r := NewResolver(StrategyManual)

	local := []byte(`{"items":[1,2]}`)
	remote := []byte(`{"items":[3,4,5]}`)
	base := []byte(`{"items":[0]}`)

	res, err := r.Resolve("json", local, remote, base, KindModifyModify)
	require.NoError(t, err)
	assert.Contains(t, string(res.Content), "3")
	assert.Contains(t, string(res.Content), "5")
	assert.NotContains(t, string(res.Content), "1,")
}

func TestResolve_YAML_MergeWithBase(t *testing.T) {
	r := NewResolver(StrategyManual)

	local := []byte("name: test\nvalue: 1\n")
	remote := []byte("name: test\nvalue: 2\n")
	base := []byte("name: test\nvalue: 0\n")

	res, err := r.Resolve("yaml", local, remote, base, KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Contains(t, string(res.Content), "name: test")
}

func TestResolve_ModifyDelete_KeepLocal(t *testing.T) {
	r := &Resolver{DefaultStrategy: StrategyKeepLocal}

	res, err := r.Resolve("txt", []byte("local-kept"), nil, nil, KindModifyDelete)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, "local-kept", string(res.Content))
}

func TestResolve_ModifyDelete_KeepRemoteButRemoteEmpty_KeepsLocal(t *testing.T) {
	r := &Resolver{DefaultStrategy: StrategyKeepRemote}

	res, err := r.Resolve("txt", []byte("local-content"), nil, nil, KindModifyDelete)
	require.NoError(t, err)
	assert.Equal(t, "local-content", string(res.Content))
}

func TestResolve_OtherFileType_DefaultStrategyKeepLocal(t *testing.T) {
	r := NewResolver(StrategyKeepLocal)

	res, err := r.Resolve("exe", []byte("local-bin"), []byte("remote-bin"), nil, KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, "local-bin", string(res.Content))
}

func TestResolve_AutoMergeDisabled_FallsBackToMarker(t *testing.T) {
	r := NewResolver(StrategyManual)
	r.AutoMergeText = false

	res, err := r.Resolve("md", []byte("base"), []byte("changed"), []byte("base"), KindModifyModify)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
}

func TestClassifyFileType(t *testing.T) {
	assert.Equal(t, ClassText, ClassifyFileType("md"))
	assert.Equal(t, ClassJSON, ClassifyFileType("json"))
	assert.Equal(t, ClassYAML, ClassifyFileType("yaml"))
	assert.Equal(t, ClassOther, ClassifyFileType("exe"))
}
