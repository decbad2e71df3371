package indexer

import "yuvprotocol.org/node/pixel/announce"

// opReturnData delegates to announce.ExtractOpReturn; kept as a thin
// package-local alias since every caller in this package already speaks in
// terms of "the announcement sub-indexer's OP_RETURN scan".
func opReturnData(pkScript []byte) (data []byte, ok bool) {
	return announce.ExtractOpReturn(pkScript)
}
