// Package knowledge serves read-only background facts and a contact book
// loaded from a static JSON file. Tool handlers use it to resolve contact
// names to addresses and to enrich prompts with personal context.
package knowledge
