// Package ui renders fleet snapshots for the terminal: host, session and
// alert tables for one-shot commands and CPU sparklines for watch mode.
//
// Colors are ANSI codes so they follow the user's terminal theme. Output
// that isn't going to a terminal, or runs with NO_COLOR set, is plain text;
// see ConfigureColors.
package ui
