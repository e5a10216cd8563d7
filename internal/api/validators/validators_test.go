package validators

import (
	"testing"

	"github.com/canvas-studio/engine/internal/api/types"
	"github.com/stretchr/testify/assert"
)

func TestConnectionCreateRequest(t *testing.T) {
	v := New()
	assert.Same(t, v, New())

	ok := types.ConnectionCreateRequest{SourceID: "a", TargetID: "b", Type: "solves"}
	assert.NoError(t, v.Struct(ok))

	bad := ok
	bad.Type = "likes"
	assert.Error(t, v.Struct(bad))

	missing := ok
	missing.SourceID = ""
	assert.Error(t, v.Struct(missing))
}

func TestBlockTags(t *testing.T) {
	type req struct {
		Type    string `validate:"block_type"`
		Company string `validate:"company"`
		Status  string `validate:"block_status"`
	}
	v := New()
	assert.NoError(t, v.Struct(req{Type: "persona", Company: "labs", Status: "in_review"}))
	assert.Error(t, v.Struct(req{Type: "persona", Company: "acme", Status: "in_review"}))
}
