package txcheck

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"yuvprotocol.org/node/pixel"
)

// FreezeLookup answers whether an outpoint is currently frozen, supplied by
// the caller so the checker stays stateless.
type FreezeLookup func(txid chainhash.Hash, vout uint32) (frozen bool, err error)

// AnnouncementChromaLookup resolves the chroma a freeze/unfreeze
// announcement's signature was verified under, supplied by the caller
// because script/signature resolution lives outside the checker.
type AnnouncementChromaLookup func(ytx *YuvTx) (signingChroma pixel.Chroma, ok bool)

// Check runs the full 6-step isolated validation in order, short-circuiting
// on the first failure: structural, per-input commitment binding,
// per-output commitment binding, balance, bulletproof range, announcement
// rules; when freeze is non-nil, a check that no input is frozen follows.
func Check(ytx *YuvTx, inputs map[uint32]InputContext, outputs map[uint32]InputContext, rangeVerifier pixel.RangeVerifier, freeze FreezeLookup, announcementChroma AnnouncementChromaLookup) error {
	if err := checkStructural(ytx); err != nil {
		return err
	}
	if err := checkInputCommitments(ytx, inputs, rangeVerifier); err != nil {
		return err
	}
	if err := checkOutputCommitments(ytx, outputs, rangeVerifier); err != nil {
		return err
	}
	if err := checkBalance(ytx); err != nil {
		return err
	}
	if err := checkBulletproofRange(ytx, outputs, rangeVerifier); err != nil {
		return err
	}
	if err := checkAnnouncementRules(ytx, announcementChroma); err != nil {
		return err
	}
	if freeze != nil {
		if err := checkNotFrozen(ytx, freeze); err != nil {
			return err
		}
	}
	return nil
}

// checkStructural is step 1: proof maps reference only existing
// input/output indices, and tx_type is consistent with the tx's shape.
func checkStructural(ytx *YuvTx) error {
	if ytx.Btx == nil {
		return checkErr(ErrMalformed, "missing underlying bitcoin transaction")
	}
	nIn := len(ytx.Btx.TxIn)
	nOut := len(ytx.Btx.TxOut)

	for idx := range ytx.InputProofs {
		if int(idx) >= nIn {
			return checkErr(ErrMalformed, "input proof %d references non-existing input", idx)
		}
	}
	for idx := range ytx.OutputProofs {
		if int(idx) >= nOut {
			return checkErr(ErrMalformed, "output proof %d references non-existing output", idx)
		}
	}

	switch ytx.Type {
	case TxTypeAnnouncement:
		if len(ytx.OutputProofs) > 0 {
			return checkErr(ErrMalformed, "announcement tx carries pixel outputs")
		}
		if ytx.Announcement == nil {
			return checkErr(ErrMalformed, "announcement tx missing parsed announcement")
		}
	case TxTypeIssue:
		if ytx.Announcement == nil || ytx.Announcement.Kind.String() != "Issuance" {
			return checkErr(ErrMalformed, "issue tx requires an issuance announcement")
		}
		if !ytx.IssuerSignatureValid {
			return checkErr(ErrMalformed, "issue tx announcement signature not verified")
		}
	}
	return nil
}

// checkInputCommitments is step 2: each input proof's tweaked key equals
// the scriptPubKey of the outpoint's output.
func checkInputCommitments(ytx *YuvTx, inputs map[uint32]InputContext, rv pixel.RangeVerifier) error {
	for idx, proof := range ytx.InputProofs {
		ctxInfo, ok := inputs[idx]
		if !ok {
			return checkErr(ErrMalformed, "missing input context for input %d", idx)
		}
		verifyCtx := pixel.VerifyContext{
			ScriptKey:      ctxInfo.ScriptKey,
			IsTaproot:      ctxInfo.IsTaproot,
			IsWitnessV0:    ctxInfo.IsWitnessV0,
			WitnessProgram: ctxInfo.WitnessProgram,
			RangeVerifier:  rv,
		}
		if err := pixel.VerifyProof(proof, verifyCtx); err != nil {
			return checkErr(ErrBadProof, "input %d: %v", idx, err)
		}
	}
	return nil
}

// checkOutputCommitments is step 3: each output proof's tweaked key equals
// this tx's own output scriptPubKey.
func checkOutputCommitments(ytx *YuvTx, outputs map[uint32]InputContext, rv pixel.RangeVerifier) error {
	for idx, proof := range ytx.OutputProofs {
		ctxInfo, ok := outputs[idx]
		if !ok {
			return checkErr(ErrMalformed, "missing output context for output %d", idx)
		}
		verifyCtx := pixel.VerifyContext{
			ScriptKey:      ctxInfo.ScriptKey,
			IsTaproot:      ctxInfo.IsTaproot,
			IsWitnessV0:    ctxInfo.IsWitnessV0,
			WitnessProgram: ctxInfo.WitnessProgram,
			RangeVerifier:  rv,
		}
		if err := pixel.VerifyProof(proof, verifyCtx); err != nil {
			return checkErr(ErrBadProof, "output %d: %v", idx, err)
		}
	}
	return nil
}

// checkBalance is step 4: per-chroma conservation, with the Issue and
// Bulletproof carve-outs spec.md §3 invariant 1 describes.
func checkBalance(ytx *YuvTx) error {
	plainIn := map[pixel.Chroma]uint64{}
	plainOut := map[pixel.Chroma]uint64{}
	hiddenIn := map[pixel.Chroma][]*pixel.PedersenCommitment{}
	hiddenOut := map[pixel.Chroma][]*pixel.PedersenCommitment{}
	issuerChroma := pixel.Chroma{}
	hasIssuer := false

	if ytx.Type == TxTypeIssue && ytx.Announcement != nil && ytx.Announcement.Issuance != nil {
		issuerChroma = ytx.Announcement.Issuance.Chroma
		hasIssuer = true
	}

	for _, p := range ytx.InputProofs {
		switch v := p.(type) {
		case *pixel.BulletproofProof:
			hiddenIn[v.Chroma()] = append(hiddenIn[v.Chroma()], v.Commitment)
		case *pixel.EmptyPixelProof:
		default:
			plainIn[p.Chroma()] += lumaOf(p)
		}
	}
	for _, p := range ytx.OutputProofs {
		switch v := p.(type) {
		case *pixel.BulletproofProof:
			if _, isPlain := plainOut[v.Chroma()]; isPlain {
				return checkErr(ErrUnbalanced, "chroma %s mixes plaintext and hidden outputs", v.Chroma())
			}
			hiddenOut[v.Chroma()] = append(hiddenOut[v.Chroma()], v.Commitment)
		case *pixel.EmptyPixelProof:
		default:
			if _, isHidden := hiddenOut[p.Chroma()]; isHidden {
				return checkErr(ErrUnbalanced, "chroma %s mixes plaintext and hidden outputs", p.Chroma())
			}
			plainOut[p.Chroma()] += lumaOf(p)
		}
	}

	seen := map[pixel.Chroma]bool{}
	for c := range plainIn {
		seen[c] = true
	}
	for c := range plainOut {
		seen[c] = true
	}
	for c := range seen {
		if hasIssuer && c == issuerChroma {
			continue
		}
		if plainIn[c] != plainOut[c] {
			return checkErr(ErrUnbalanced, "chroma %s: inputs=%d outputs=%d", c, plainIn[c], plainOut[c])
		}
	}

	hiddenChromas := map[pixel.Chroma]bool{}
	for c := range hiddenIn {
		hiddenChromas[c] = true
	}
	for c := range hiddenOut {
		hiddenChromas[c] = true
	}
	for c := range hiddenChromas {
		inSum := pixel.AddCommitments(hiddenIn[c]...)
		outSum := pixel.AddCommitments(hiddenOut[c]...)
		if !inSum.Equal(outSum) {
			return checkErr(ErrUnbalanced, "chroma %s: hidden commitment sums differ", c)
		}
	}
	return nil
}

func lumaOf(p pixel.Proof) uint64 {
	switch v := p.(type) {
	case *pixel.SigProof:
		return uint64(v.Pixel.Luma)
	case *pixel.MultisigProof:
		return uint64(v.Pixel.Luma)
	case *pixel.LightningProof:
		return uint64(v.Pixel.Luma)
	default:
		return 0
	}
}

// checkBulletproofRange is step 5: each bulletproof output proof verifies
// against its own commitment. Input-side bulletproof range checks are
// unnecessary — a hidden input's range was already checked when it was
// created as an output of some earlier attached transaction.
func checkBulletproofRange(ytx *YuvTx, outputs map[uint32]InputContext, rv pixel.RangeVerifier) error {
	for idx, p := range ytx.OutputProofs {
		bp, ok := p.(*pixel.BulletproofProof)
		if !ok {
			continue
		}
		ctxInfo := outputs[idx]
		verifyCtx := pixel.VerifyContext{
			ScriptKey:      ctxInfo.ScriptKey,
			IsTaproot:      ctxInfo.IsTaproot,
			IsWitnessV0:    ctxInfo.IsWitnessV0,
			WitnessProgram: ctxInfo.WitnessProgram,
			RangeVerifier:  rv,
		}
		if err := bp.Verify(verifyCtx); err != nil {
			return checkErr(ErrBadProof, "output %d bulletproof: %v", idx, err)
		}
	}
	return nil
}

// checkAnnouncementRules is step 6: freeze/unfreeze announcements must be
// signed under a chroma key matching the outpoint's issuer; issuance
// announcements name a chroma equal to the signing key.
func checkAnnouncementRules(ytx *YuvTx, announcementChroma AnnouncementChromaLookup) error {
	if ytx.Type != TxTypeAnnouncement && ytx.Type != TxTypeIssue {
		return nil
	}
	if ytx.Announcement == nil {
		return checkErr(ErrBadAnnouncement, "missing announcement")
	}
	if announcementChroma == nil {
		return nil
	}
	signingChroma, ok := announcementChroma(ytx)
	if !ok {
		return checkErr(ErrBadAnnouncement, "announcement signature could not be resolved to a chroma")
	}

	switch ytx.Announcement.Kind.String() {
	case "Issuance":
		if ytx.Announcement.Issuance.Chroma != signingChroma {
			return checkErr(ErrWrongIssuer, "issuance names chroma %s but signed by %s", ytx.Announcement.Issuance.Chroma, signingChroma)
		}
	case "Freeze", "Unfreeze":
		if ytx.Announcement.Freeze.Chroma != signingChroma {
			return checkErr(ErrWrongIssuer, "freeze/unfreeze names chroma %s but signed by %s", ytx.Announcement.Freeze.Chroma, signingChroma)
		}
	}
	return nil
}

// checkNotFrozen enforces invariant 3: no input may reference an outpoint
// that is currently frozen.
func checkNotFrozen(ytx *YuvTx, freeze FreezeLookup) error {
	for _, in := range ytx.Btx.TxIn {
		frozen, err := freeze(in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		if err != nil {
			return checkErr(ErrMalformed, "freeze lookup: %v", err)
		}
		if frozen {
			return checkErr(ErrBadAnnouncement, "input %s:%d spends a frozen outpoint", in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		}
	}
	return nil
}
