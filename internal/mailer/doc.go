// Package mailer delivers report emails through the local sendmail binary.
//
// Plain messages are quoted-printable text. HTML messages are
// multipart/related so figures can be referenced inline as cid:<id>.
package mailer
