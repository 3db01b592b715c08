// Package reconcile plans Edit writes against target documents whose nested
// arrays must be matched element by element instead of replaced.
//
// Planning is pure. The caller reads the current target documents, asks for
// a Plan, then applies it in two steps that must not be reordered:
//
//  1. Inserts: per target document, append the source elements whose
//     association key is absent from the document's array. Each new element
//     gets a fresh identifier in ElementIDField.
//  2. Update: one positional update for all target documents. Scalar fields
//     are set directly. Each source element of an array field gets an array
//     filter "element<n>" matching its association key, and its mapped
//     sub-fields are set through "field.$[element<n>].sub".
//
// Running the update first could rewrite key fields that the insertion step
// relies on to detect which elements already exist, and the next run would
// then insert duplicates.
package reconcile
