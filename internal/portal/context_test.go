package portal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestContextAccessorsOutsideCall(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, LocationClient, LocationFrom(ctx))
	assert.Nil(t, PrincipalFrom(ctx))
	assert.Empty(t, GlobalFrom(ctx))
	assert.Empty(t, ClientFrom(ctx))
	_, ok := FromContext(ctx)
	assert.False(t, ok)
}

func TestEnterInstallsContext(t *testing.T) {
	dc := &DispatchContext{Principal: business("ann"), Client: Bag{"k": "v"}, Global: Bag{}, Remote: true}
	ctx, release := enter(context.Background(), dc)
	assert.Equal(t, LocationServer, LocationFrom(ctx))
	assert.Equal(t, "server", LocationFrom(ctx).String())
	assert.Equal(t, "ann", PrincipalFrom(ctx).Name())
	assert.Equal(t, "v", ClientFrom(ctx)["k"])
	GlobalFrom(ctx)["x"] = 1
	assert.Equal(t, 1, dc.Global["x"])

	release()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestBagClone(t *testing.T) {
	var nilBag Bag
	assert.NotNil(t, nilBag.Clone())
	b := Bag{"a": 1}
	c := b.Clone()
	c["a"] = 2
	assert.Equal(t, 1, b["a"])
}

func TestParseLocale(t *testing.T) {
	tag, err := ParseLocale("")
	require.NoError(t, err)
	assert.Equal(t, language.Und, tag)
	tag, err = ParseLocale("de-CH")
	require.NoError(t, err)
	assert.Equal(t, "de-CH", tag.String())
	_, err = ParseLocale("not a locale!")
	assert.Error(t, err)
}
