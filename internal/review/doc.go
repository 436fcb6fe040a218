// Package review defines core types shared across the vendor review pipeline.
package review
