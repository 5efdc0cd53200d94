// Package ir provides the canonical value model and encoder used for every
// byte that is hashed or compared across capture nodes.
//
// This package has no internal imports; chat, store and merge build on it.
//
// Key design constraints:
//   - NO float types anywhere - timestamps are int64 milliseconds (IRSeconds)
//   - Object keys sorted by UTF-16 code units (RFC 8785)
//   - Strings NFC-normalised at the serialisation boundary
//   - No insignificant whitespace
package ir
