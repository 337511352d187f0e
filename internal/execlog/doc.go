// Package execlog persists the record of each workflow's last successful run
// at run/<name>/execution.json.
//
// Records are written atomically after the output artifact exists. Reading
// is forgiving: a missing, unparsable, or wrong-version record is reported as
// absent so the workflow simply runs again.
package execlog
