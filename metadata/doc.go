// Package metadata defines document metadata and the filter language used
// to narrow search results.
//
// A filter is a map from field name to either a literal (equality) or an
// operator object:
//
//	{"lang": "go", "stars": {"$gte": 100}, "tag": {"$in": ["db", "ann"]}}
//
// Supported operators are $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin and
// $exists. Conditions on different fields are ANDed.
package metadata
