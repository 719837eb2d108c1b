// Package policy embeds the Open Policy Agent (OPA) engine so HTTP access
// decisions can be written in Rego instead of ordered rules.
//
// A policy module receives the request method, path, headers and the
// authenticated principal as input and answers with an object carrying an
// "action" of "allow" or "deny" and an optional "reason". The package knows
// nothing about HTTP handlers; the security package adapts requests into
// Input values and turns decisions into responses.
package policy
