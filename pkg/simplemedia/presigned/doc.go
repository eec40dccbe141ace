// Package presigned signs and validates direct-upload URLs for storage
// backends that have no native presigning, such as the filesystem backend.
//
// A signature covers the HTTP method, the object path, the expiry and the
// exact content type and length the upload was authorized for, so a URL can
// only ever write one object of one declared size.
//
// # Basic Usage
//
//	signer := presigned.New(presigned.WithSecretKey(secret), presigned.WithBaseURL("https://api.example.com"))
//	url, err := signer.SignUpload("profiles/u1/abc.png", "image/png", 48213, 5*time.Minute)
//
// Validate on the receiving side:
//
//	key, err := signer.ValidateUpload(r)
package presigned
