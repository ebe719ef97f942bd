package appattest

import "bytes"

// maxNonceWalkDepth bounds the recursive ASN.1 descent in findCertNonce so a
// pathological certificate can't force unbounded recursion (spec.md §9).
const maxNonceWalkDepth = 10

// findCertNonce scans a DER-encoded certificate for the literal OID header of
// Apple's App Attest nonce extension (1.2.840.113635.100.8.2), then walks the
// ASN.1 TLV structure immediately following it looking for the first OCTET
// STRING whose value is exactly 32 bytes. It never commits to the exact
// wrapper shape Apple uses around that octet string, only that it is nested
// inside TLV containers within maxNonceWalkDepth levels.
func findCertNonce(certDER []byte) ([]byte, bool) {
	idx := bytes.Index(certDER, appleNonceOIDBytes)
	if idx < 0 {
		return nil, false
	}
	rest := certDER[idx+len(appleNonceOIDBytes):]
	return walkForOctetString32(rest, 1)
}

// walkForOctetString32 parses a sequence of sibling ASN.1 TLV elements out of
// data and, for each, either returns it (if it's a 32-byte OCTET STRING) or
// recurses into its value. depth starts at 1 for the elements immediately
// after the OID; a nonce nested exactly 10 levels deep is still found, an
// 11th level is never inspected.
func walkForOctetString32(data []byte, depth int) ([]byte, bool) {
	if depth > maxNonceWalkDepth {
		return nil, false
	}
	for len(data) > 0 {
		tag, value, rest, ok := parseTLV(data)
		if !ok {
			return nil, false
		}
		if tag == 0x04 && len(value) == 32 {
			return value, true
		}
		if nonce, found := walkForOctetString32(value, depth+1); found {
			return nonce, true
		}
		data = rest
	}
	return nil, false
}

// parseTLV splits one ASN.1 tag-length-value element off the front of data,
// supporting both short-form and long-form (multi-byte) lengths. It reports
// ok=false on any malformed or truncated encoding rather than panicking.
func parseTLV(data []byte) (tag byte, value []byte, rest []byte, ok bool) {
	if len(data) < 2 {
		return 0, nil, nil, false
	}
	tag = data[0]
	lenByte := data[1]
	offset := 2
	var length int
	if lenByte&0x80 == 0 {
		length = int(lenByte)
	} else {
		numBytes := int(lenByte &^ 0x80)
		if numBytes == 0 || numBytes > 4 || len(data) < offset+numBytes {
			return 0, nil, nil, false
		}
		length = 0
		for i := 0; i < numBytes; i++ {
			length = length<<8 | int(data[offset+i])
		}
		offset += numBytes
	}
	if length < 0 || len(data) < offset+length {
		return 0, nil, nil, false
	}
	return tag, data[offset : offset+length], data[offset+length:], true
}
