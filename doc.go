// Package walletkit contains the wire-level values exchanged between credential
// verifiers, issuers and holder wallets during SIOPv2 presentation and
// OIDC-style issuance flows, together with the query-string codec used on
// every redirect hop. The server-side session engines that consume these
// values live in the server subpackages.
package walletkit
