// Package command runs external programs with captured output.
//
// Every tool the weekly pipeline shells out to (deno, docker, bash,
// sendmail) goes through an Executor so clients can be tested with stub
// executors that record arguments instead of spawning processes.
package command
