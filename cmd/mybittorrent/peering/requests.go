package peering

// BlockSize is the request size nearly every client uses.
const BlockSize = 16 * 1024

// PieceRequests splits a piece into consecutive block requests of at most
// blockSize bytes; the last one may be short.
func PieceRequests(index uint32, pieceSize int64, blockSize uint32) []Request {
	if pieceSize <= 0 || blockSize == 0 {
		return nil
	}
	requests := make([]Request, 0, (pieceSize+int64(blockSize)-1)/int64(blockSize))
	for begin := int64(0); begin < pieceSize; begin += int64(blockSize) {
		end := begin + int64(blockSize)
		if end > pieceSize {
			end = pieceSize
		}
		requests = append(requests, Request{Index: index, Begin: uint32(begin), Length: uint32(end - begin)})
	}
	return requests
}
