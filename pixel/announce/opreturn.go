package announce

// ExtractOpReturn extracts the pushed payload from a standard single-push
// OP_RETURN script (OP_RETURN <pushdata>), returning ok=false for anything
// else — including multi-push or non-OP_RETURN scripts, which must be
// ignored silently rather than logged as malformed.
func ExtractOpReturn(pkScript []byte) (data []byte, ok bool) {
	const opReturn = 0x6a
	const opPushdata1 = 0x4c
	const opPushdata2 = 0x4d

	if len(pkScript) < 1 || pkScript[0] != opReturn {
		return nil, false
	}
	rest := pkScript[1:]
	if len(rest) == 0 {
		return nil, false
	}

	op := rest[0]
	switch {
	case op >= 0x01 && op <= 0x4b:
		n := int(op)
		if len(rest) != 1+n {
			return nil, false
		}
		return rest[1 : 1+n], true

	case op == opPushdata1:
		if len(rest) < 2 {
			return nil, false
		}
		n := int(rest[1])
		if len(rest) != 2+n {
			return nil, false
		}
		return rest[2 : 2+n], true

	case op == opPushdata2:
		if len(rest) < 3 {
			return nil, false
		}
		n := int(rest[1]) | int(rest[2])<<8
		if len(rest) != 3+n {
			return nil, false
		}
		return rest[3 : 3+n], true

	default:
		return nil, false
	}
}
