package portal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityportal/pkg/domain"
)

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, Register(reg, "ledger", newLedger))
	assert.ErrorContains(t, Register(reg, "ledger", func() *bare { return &bare{} }), "already registered")
	assert.ErrorContains(t, Register(reg, "ledger2", newLedger), "already registered as ledger")
	assert.Error(t, Register(reg, "", newLedger))
	assert.Error(t, Register[*bare](reg, "bare", nil))
}

func TestRegistry_LookupAndNames(t *testing.T) {
	reg := testRegistry()
	assert.Equal(t, []string{"bare", "ledger", "pinger", "watched"}, reg.Names())

	name, err := reg.NameOf(&pinger{})
	require.NoError(t, err)
	assert.Equal(t, "pinger", name)

	_, err = reg.NameOf(ledger{})
	assert.Error(t, err, "value and pointer types register separately")
	_, err = reg.NameOf(nil)
	assert.Error(t, err)

	obj, err := reg.New("ledger")
	require.NoError(t, err)
	assert.True(t, obj.(*ledger).New)
}

func TestRegistry_DecodeCriteria(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, Register(reg, "ledger", newLedger, WithCriteria[int]()))
	require.NoError(t, Register(reg, "bare", func() *bare { return &bare{} }))
	require.NoError(t, Register(reg, "pinger", func() *pinger { return &pinger{} }, WithCriteria[uuid.UUID]()))

	info, err := reg.Lookup("ledger")
	require.NoError(t, err)
	c, err := info.DecodeCriteria([]byte("7"))
	require.NoError(t, err)
	assert.Equal(t, 7, c)
	c, err = info.DecodeCriteria([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, c)
	_, err = info.DecodeCriteria([]byte(`"seven"`))
	assert.Error(t, err)

	info, err = reg.Lookup("bare")
	require.NoError(t, err)
	c, err = info.DecodeCriteria([]byte(`{"id":7}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(7)}, c)

	id := uuid.New()
	info, err = reg.Lookup("pinger")
	require.NoError(t, err)
	c, err = info.DecodeCriteria([]byte(`"` + id.String() + `"`))
	require.NoError(t, err)
	assert.Equal(t, id, c)
}

func TestRegistry_CloneIsIndependent(t *testing.T) {
	reg := testRegistry()
	orig := &ledger{ID: 3, Name: "x", Calls: []domain.Hook{"update"}}
	out, err := reg.Clone(orig)
	require.NoError(t, err)
	cp := out.(*ledger)
	assert.NotSame(t, orig, cp)
	assert.Equal(t, orig.Name, cp.Name)
	cp.Calls[0] = "insert"
	assert.Equal(t, domain.Hook("update"), orig.Calls[0])

	_, err = reg.Clone(struct{}{})
	assert.Error(t, err)
}
