// Package tasktype manages task type templates and their execution
// policy (retries, lease duration, duplicate handling).
package tasktype
