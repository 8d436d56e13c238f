// Package domain contains the core entities of the task engine and their
// validation rules, independent of persistence and delivery concerns.
package domain
