package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysUTF16(t *testing.T) {
	obj := AttrObject{
		"zone": AttrString("porch"),
		"aaa":  AttrInt(1),
		"mmm":  AttrBool(true),
	}

	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"aaa":1,"mmm":true,"zone":"porch"}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(AttrString("a<b>&c"))
	require.NoError(t, err)
	assert.Equal(t, `"a<b>&c"`, string(got))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"confidence": 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	obj := AttrObject{
		"signal_ids": AttrArray{AttrString("s1"), AttrString("s2")},
		"seq":        AttrInt(42),
		"canary":     AttrBool(false),
		"nested":     AttrObject{"b": AttrInt(2), "a": AttrInt(1)},
	}

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestMarshalCanonical_LineSeparatorsUnescaped(t *testing.T) {
	got, err := MarshalCanonical(AttrString("a b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a b\"", string(got))
}

func TestHashWithDomain_DomainSeparation(t *testing.T) {
	data := []byte(`{"kind":"motion"}`)
	assert.NotEqual(t,
		HashWithDomain(DomainSignal, data),
		HashWithDomain(DomainTransition, data))
}

func TestFingerprint_StableAcrossDeliveries(t *testing.T) {
	a := &Signal{ID: "delivery-1", Kind: KindMotion, HomeID: "h1", Zone: "yard", DeviceID: "cam-3", DeviceMS: 1000}
	b := &Signal{ID: "delivery-2", Kind: KindMotion, HomeID: "h1", Zone: "yard", DeviceID: "cam-3", DeviceMS: 1000}

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "fingerprint must ignore delivery id")

	c := &Signal{ID: "delivery-3", Kind: KindMotion, HomeID: "h1", Zone: "yard", DeviceID: "cam-3", DeviceMS: 2000}
	fc, err := Fingerprint(c)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}
