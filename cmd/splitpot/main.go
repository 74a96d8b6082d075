// splitpot is the command-line client for a zero-knowledge shared
// expense ledger. All state is encrypted with a secret ledger key
// before it leaves the device; the relay only ever sees ciphertext
// addressed by a keyed hash of that key.
package main

func main() {
	Execute()
}
