// Package payrequest implements the merchant side of a Solana Pay transfer
// request: minting a reference, holding the pending intent, encoding the
// payment URL and confirming settlement exactly once.
package payrequest
