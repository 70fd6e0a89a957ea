// Package romexis provides access to the Romexis image archive: person
// lookup by CPR number, the image inventory of a person, and the binary
// payload of each image.
//
// Two backends are provided. SQLStore reads a relational copy of the archive
// through database/sql and the pure-Go sqlite driver. FirestoreStore reads
// person and image documents from Firestore and payloads from Cloud Storage.
package romexis
