package announce

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"yuvprotocol.org/node/pixel"
)

func testChroma(t *testing.T) pixel.Chroma {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return pixel.ChromaFromPubKey(priv.PubKey())
}

func TestIssuanceRoundTrip(t *testing.T) {
	chroma := testChroma(t)
	a := &Announcement{
		Kind:     KindIssuance,
		Issuance: &IssuanceBody{Chroma: chroma, TotalSupply: 10_000},
	}
	enc, err := a.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Parse(enc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Kind != KindIssuance || got.Issuance.Chroma != chroma || got.Issuance.TotalSupply != 10_000 {
		t.Fatalf("got %+v", got.Issuance)
	}
}

func TestFreezeRoundTrip(t *testing.T) {
	chroma := testChroma(t)
	a := &Announcement{
		Kind: KindFreeze,
		Freeze: &FreezeBody{
			Chroma:       chroma,
			OutpointTxid: [32]byte{1, 2, 3},
			OutpointVout: 7,
		},
	}
	enc, err := a.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Parse(enc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Kind != KindFreeze || got.Freeze.OutpointVout != 7 {
		t.Fatalf("got %+v", got.Freeze)
	}
}

func TestChromaRoundTrip(t *testing.T) {
	chroma := testChroma(t)
	a := &Announcement{
		Kind:   KindChroma,
		Chroma: &ChromaBody{Chroma: chroma, Name: "US Dollar"},
	}
	enc, err := a.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Parse(enc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Chroma.Name != "US Dollar" {
		t.Fatalf("got name %q", got.Chroma.Name)
	}
}

func TestParseRejectsWrongMagic(t *testing.T) {
	b := []byte{'n', 'o', 'p', 'e', CurrentVersion, byte(KindIssuance)}
	if _, err := Parse(b); err != ErrNotAnAnnouncement {
		t.Fatalf("got err=%v, want ErrNotAnAnnouncement", err)
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	b := append([]byte{}, Magic[:]...)
	b = append(b, CurrentVersion, byte(KindIssuance))
	if _, err := Parse(b); err == nil {
		t.Fatalf("expected error for truncated issuance body")
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	chroma := testChroma(t)
	b := append([]byte{}, Magic[:]...)
	b = append(b, CurrentVersion, 0xff)
	b = append(b, chroma[:]...)
	if _, err := Parse(b); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	b := append([]byte{}, Magic[:]...)
	b = append(b, 0x02, byte(KindIssuance))
	if _, err := Parse(b); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}
