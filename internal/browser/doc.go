// Package browser drives web automation through a one-shot scripted
// subprocess. Tasks are anchored to a single objective and bounded by a step
// budget before they are handed to the script.
package browser
