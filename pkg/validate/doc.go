// Package validate holds the schema checks applied at every service
// boundary: slug-like names, bounded text, and numeric minima.
package validate
