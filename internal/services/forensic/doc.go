// Package forensic embeds provenance signatures into uploaded sources and
// every transcoded rendition.
package forensic
